package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/duplicate"

	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memState struct {
	issues      map[primitive.ObjectID]models.Issue
	crews       map[primitive.ObjectID]models.Crew
	assignments map[primitive.ObjectID]models.Assignment
	scores      map[primitive.ObjectID]models.PriorityScore
	upvotes     []models.Upvote
	users       map[primitive.ObjectID]models.User
}

func newMemState() *memState {
	return &memState{
		issues:      make(map[primitive.ObjectID]models.Issue),
		crews:       make(map[primitive.ObjectID]models.Crew),
		assignments: make(map[primitive.ObjectID]models.Assignment),
		scores:      make(map[primitive.ObjectID]models.PriorityScore),
		users:       make(map[primitive.ObjectID]models.User),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.issues {
		c.issues[k] = v
	}
	for k, v := range s.crews {
		c.crews[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.scores {
		c.scores[k] = v
	}
	c.upvotes = append([]models.Upvote(nil), s.upvotes...)
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Memory is an in-process Repository. Transactions work on a private copy
// of the data that replaces the shared state on commit; transactions and
// standalone writes are serialized against each other.
type Memory struct {
	mu     *sync.RWMutex
	state  *memState
	commit *sync.Mutex
	inTx   bool
}

func NewMemory() *Memory {
	return &Memory{
		mu:     &sync.RWMutex{},
		state:  newMemState(),
		commit: &sync.Mutex{},
	}
}

func (m *Memory) read(fn func(s *memState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *Memory) write(fn func(s *memState) error) error {
	if !m.inTx {
		m.commit.Lock()
		defer m.commit.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}

	m.commit.Lock()
	defer m.commit.Unlock()

	m.mu.RLock()
	snapshot := m.state.clone()
	m.mu.RUnlock()

	tx := &Memory{mu: &sync.RWMutex{}, state: snapshot, inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = tx.state
	m.mu.Unlock()
	return nil
}

// Issues

func (m *Memory) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var out models.Issue
	err := m.read(func(s *memState) error {
		issue, ok := s.issues[id]
		if !ok {
			return goerr.Wrap(ErrNotFound, "issue not found", goerr.V("issue_id", id.Hex()))
		}
		out = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) filterIssues(f IssueFilter) []models.Issue {
	var out []models.Issue
	_ = m.read(func(s *memState) error {
		for _, issue := range s.issues {
			if matchesIssue(f, &issue) {
				out = append(out, issue)
			}
		}
		return nil
	})
	return out
}

func (m *Memory) ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, error) {
	issues := m.filterIssues(f)

	sort.Slice(issues, func(i, j int) bool {
		a, b := &issues[i], &issues[j]
		if f.Sort == SortPriority && a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.ReportedAt.Equal(b.ReportedAt) {
			return a.ReportedAt.After(b.ReportedAt)
		}
		return a.ID.Hex() < b.ID.Hex()
	})

	if f.Offset > 0 {
		if f.Offset >= len(issues) {
			return []models.Issue{}, nil
		}
		issues = issues[f.Offset:]
	}
	if f.Limit > 0 && len(issues) > f.Limit {
		issues = issues[:f.Limit]
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	return issues, nil
}

func (m *Memory) CountIssues(ctx context.Context, f IssueFilter) (int64, error) {
	return int64(len(m.filterIssues(f))), nil
}

func (m *Memory) DuplicateCandidates(ctx context.Context, q duplicate.Candidates) ([]models.Issue, error) {
	notDuplicate := false
	issues := m.filterIssues(IssueFilter{
		Category:  q.Category,
		Duplicate: &notDuplicate,
		Since:     q.Since,
	})

	out := issues[:0]
	for _, issue := range issues {
		if issue.HasFingerprint() {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (m *Memory) InsertIssue(ctx context.Context, issue *models.Issue) error {
	if issue == nil {
		return goerr.New("issue is nil")
	}
	return m.write(func(s *memState) error {
		if issue.ID.IsZero() {
			issue.ID = primitive.NewObjectID()
		}
		if _, exists := s.issues[issue.ID]; exists {
			return goerr.Wrap(ErrDuplicateKey, "issue already exists", goerr.V("issue_id", issue.ID.Hex()))
		}
		issue.Version = 1
		s.issues[issue.ID] = *issue
		return nil
	})
}

func (m *Memory) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	if issue == nil {
		return goerr.New("issue is nil")
	}
	return m.write(func(s *memState) error {
		stored, ok := s.issues[issue.ID]
		if !ok {
			return goerr.Wrap(ErrNotFound, "issue not found", goerr.V("issue_id", issue.ID.Hex()))
		}
		if stored.Version != issue.Version {
			return goerr.Wrap(ErrConflict, "issue was modified",
				goerr.V("issue_id", issue.ID.Hex()),
				goerr.V("expected_version", issue.Version),
				goerr.V("stored_version", stored.Version),
			)
		}
		issue.Version++
		s.issues[issue.ID] = *issue
		return nil
	})
}

// Crews

func (m *Memory) GetCrew(ctx context.Context, id primitive.ObjectID) (*models.Crew, error) {
	var out models.Crew
	err := m.read(func(s *memState) error {
		crew, ok := s.crews[id]
		if !ok {
			return goerr.Wrap(ErrNotFound, "crew not found", goerr.V("crew_id", id.Hex()))
		}
		out = crew
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) ListCrews(ctx context.Context, f CrewFilter) ([]models.Crew, error) {
	out := []models.Crew{}
	_ = m.read(func(s *memState) error {
		for _, crew := range s.crews {
			if f.Status != "" && crew.Status != f.Status {
				continue
			}
			if f.Department != "" && crew.Department != f.Department {
				continue
			}
			out = append(out, crew)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

func (m *Memory) InsertCrew(ctx context.Context, crew *models.Crew) error {
	if crew == nil {
		return goerr.New("crew is nil")
	}
	return m.write(func(s *memState) error {
		if crew.ID.IsZero() {
			crew.ID = primitive.NewObjectID()
		}
		if _, exists := s.crews[crew.ID]; exists {
			return goerr.Wrap(ErrDuplicateKey, "crew already exists", goerr.V("crew_id", crew.ID.Hex()))
		}
		crew.Version = 1
		s.crews[crew.ID] = *crew
		return nil
	})
}

func (m *Memory) UpdateCrew(ctx context.Context, crew *models.Crew) error {
	if crew == nil {
		return goerr.New("crew is nil")
	}
	return m.write(func(s *memState) error {
		stored, ok := s.crews[crew.ID]
		if !ok {
			return goerr.Wrap(ErrNotFound, "crew not found", goerr.V("crew_id", crew.ID.Hex()))
		}
		if stored.Version != crew.Version {
			return goerr.Wrap(ErrConflict, "crew was modified",
				goerr.V("crew_id", crew.ID.Hex()),
				goerr.V("expected_version", crew.Version),
				goerr.V("stored_version", stored.Version),
			)
		}
		crew.Version++
		s.crews[crew.ID] = *crew
		return nil
	})
}

// Assignments

func (m *Memory) GetAssignment(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	var out models.Assignment
	err := m.read(func(s *memState) error {
		a, ok := s.assignments[id]
		if !ok {
			return goerr.Wrap(ErrNotFound, "assignment not found", goerr.V("assignment_id", id.Hex()))
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) ActiveAssignment(ctx context.Context, issueID primitive.ObjectID) (*models.Assignment, error) {
	var out *models.Assignment
	_ = m.read(func(s *memState) error {
		for _, a := range s.assignments {
			if a.Issue == issueID && !a.Completed {
				a := a
				out = &a
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, goerr.Wrap(ErrNotFound, "no active assignment", goerr.V("issue_id", issueID.Hex()))
	}
	return out, nil
}

func (m *Memory) ListAssignments(ctx context.Context, f AssignmentFilter) ([]models.Assignment, error) {
	out := []models.Assignment{}
	_ = m.read(func(s *memState) error {
		for _, a := range s.assignments {
			if f.Crew != nil && a.Crew != *f.Crew {
				continue
			}
			if f.ActiveOnly && a.Completed {
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.After(out[j].AssignedAt)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

func (m *Memory) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	if a == nil {
		return goerr.New("assignment is nil")
	}
	return m.write(func(s *memState) error {
		if a.ID.IsZero() {
			a.ID = primitive.NewObjectID()
		}
		if _, exists := s.assignments[a.ID]; exists {
			return goerr.Wrap(ErrDuplicateKey, "assignment already exists", goerr.V("assignment_id", a.ID.Hex()))
		}
		if !a.Completed {
			for _, other := range s.assignments {
				if other.Issue == a.Issue && !other.Completed {
					return goerr.Wrap(ErrDuplicateKey, "issue already has an active assignment",
						goerr.V("issue_id", a.Issue.Hex()))
				}
			}
		}
		s.assignments[a.ID] = *a
		return nil
	})
}

func (m *Memory) UpdateAssignment(ctx context.Context, a *models.Assignment) error {
	if a == nil {
		return goerr.New("assignment is nil")
	}
	return m.write(func(s *memState) error {
		if _, ok := s.assignments[a.ID]; !ok {
			return goerr.Wrap(ErrNotFound, "assignment not found", goerr.V("assignment_id", a.ID.Hex()))
		}
		s.assignments[a.ID] = *a
		return nil
	})
}

// Priority scores

func (m *Memory) GetPriorityScore(ctx context.Context, issueID primitive.ObjectID) (*models.PriorityScore, error) {
	var out models.PriorityScore
	err := m.read(func(s *memState) error {
		score, ok := s.scores[issueID]
		if !ok {
			return goerr.Wrap(ErrNotFound, "priority score not found", goerr.V("issue_id", issueID.Hex()))
		}
		out = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) UpsertPriorityScore(ctx context.Context, score *models.PriorityScore) error {
	if score == nil {
		return goerr.New("priority score is nil")
	}
	return m.write(func(s *memState) error {
		if prev, ok := s.scores[score.Issue]; ok && score.CalculatedAt.IsZero() {
			score.CalculatedAt = prev.CalculatedAt
		}
		s.scores[score.Issue] = *score
		return nil
	})
}

// Upvotes

func (m *Memory) InsertUpvote(ctx context.Context, u *models.Upvote) error {
	if u == nil {
		return goerr.New("upvote is nil")
	}
	return m.write(func(s *memState) error {
		if u.ID.IsZero() {
			u.ID = primitive.NewObjectID()
		}
		s.upvotes = append(s.upvotes, *u)
		return nil
	})
}

func (m *Memory) CountUpvotes(ctx context.Context, issueID primitive.ObjectID) (int64, error) {
	var n int64
	_ = m.read(func(s *memState) error {
		for _, u := range s.upvotes {
			if u.Issue == issueID {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (m *Memory) ListUpvotes(ctx context.Context, issueID primitive.ObjectID) ([]models.Upvote, error) {
	out := []models.Upvote{}
	_ = m.read(func(s *memState) error {
		for _, u := range s.upvotes {
			if u.Issue == issueID {
				out = append(out, u)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Users

func (m *Memory) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var out models.User
	err := m.read(func(s *memState) error {
		u, ok := s.users[id]
		if !ok {
			return goerr.Wrap(ErrNotFound, "user not found", goerr.V("user_id", id.Hex()))
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	_ = m.read(func(s *memState) error {
		for _, u := range s.users {
			if strings.EqualFold(u.Email, email) {
				u := u
				out = &u
				return nil
			}
		}
		return nil
	})
	if out == nil {
		return nil, goerr.Wrap(ErrNotFound, "user not found", goerr.V("email", email))
	}
	return out, nil
}

func (m *Memory) InsertUser(ctx context.Context, u *models.User) error {
	if u == nil {
		return goerr.New("user is nil")
	}
	return m.write(func(s *memState) error {
		for _, other := range s.users {
			if strings.EqualFold(other.Email, u.Email) {
				return goerr.Wrap(ErrDuplicateKey, "email already registered", goerr.V("email", u.Email))
			}
		}
		if u.ID.IsZero() {
			u.ID = primitive.NewObjectID()
		}
		s.users[u.ID] = *u
		return nil
	})
}
