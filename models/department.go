package models

const (
	DeptRoadMaintenance = "Road Maintenance"
	DeptSanitation      = "Sanitation"
	DeptElectrical      = "Electrical"
	// DeptGeneral crews accept work of any category.
	DeptGeneral = "General"
)

var categoryDepartments = map[IssueCategory]string{
	RoadDamage:         DeptRoadMaintenance,
	WasteOverflow:      DeptSanitation,
	StreetlightFailure: DeptElectrical,
}

// DepartmentFor returns the department responsible for a category.
// Unmapped categories fall back to General.
func DepartmentFor(c IssueCategory) string {
	if d, ok := categoryDepartments[c]; ok {
		return d
	}
	return DeptGeneral
}

// ValidDepartment reports whether d is a department crews can belong to.
func ValidDepartment(d string) bool {
	switch d {
	case DeptRoadMaintenance, DeptSanitation, DeptElectrical, DeptGeneral:
		return true
	}
	return false
}
