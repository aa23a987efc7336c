package classify

import (
	"fmt"

	"civicsync-dispatch/models"
)

// OverrideConfidence is the image model confidence above which its category
// replaces the one chosen by the reporter.
const OverrideConfidence = 0.6

// Resolution is the outcome of reconciling the reporter's category with the
// image model's.
type Resolution struct {
	Category   models.IssueCategory
	Overridden bool
	Conflict   bool
	// Note is appended to the issue description when not empty.
	Note string
}

// ResolveCategory reconciles the category typed by the reporter with the one
// detected from the photo. userProvided is false when the reporter left the
// category empty, in which case the model always wins.
func ResolveCategory(user models.IssueCategory, userProvided bool, detected models.IssueCategory, confidence float64) Resolution {
	if !userProvided {
		return Resolution{Category: detected}
	}
	if user == detected {
		return Resolution{Category: user}
	}
	if confidence > OverrideConfidence {
		return Resolution{
			Category:   detected,
			Overridden: true,
			Note:       fmt.Sprintf("Category changed from %s to %s based on the attached photo.", user, detected),
		}
	}
	return Resolution{
		Category: user,
		Conflict: true,
		Note:     fmt.Sprintf("Possible category conflict: reporter selected %s, photo suggests %s.", user, detected),
	}
}

// AppendNote adds a system note to a description.
func AppendNote(description, note string) string {
	if note == "" {
		return description
	}
	if description == "" {
		return "[SYSTEM NOTE] " + note
	}
	return description + "\n\n[SYSTEM NOTE] " + note
}
