package generic

import (
	"strings"
)

// =============================================================================
// ORG ROLE - Canonical position derived from department and designation
// =============================================================================

// OrgRole is the closed set of organisational roles the workflow routes to.
// Free-text department and designation values are mapped onto it once, at the
// directory boundary, and nowhere else.
type OrgRole string

const (
	OrgRoleNone       OrgRole = ""
	OrgRoleHR         OrgRole = "hr"
	OrgRoleFinance    OrgRole = "finance"
	OrgRoleManagement OrgRole = "management"
)

var hrDepartments = map[string]bool{
	"hr":                    true,
	"h.r":                   true,
	"h.r.":                  true,
	"human resources":       true,
	"human resource":        true,
	"human resources (hr)":  true,
	"people operations":     true,
	"human capital":         true,
	"hr & admin":            true,
	"hr and admin":          true,
	"hr & administration":   true,
	"hr and administration": true,
}

var financeDepartments = map[string]bool{
	"finance":              true,
	"accounts":             true,
	"account":              true,
	"accounting":           true,
	"finance and accounts": true,
	"finance & accounts":   true,
	"accounts & finance":   true,
	"accounts and finance": true,
}

var managementDepartments = map[string]bool{
	"management":           true,
	"executive management": true,
	"top management":       true,
	"board":                true,
}

// managementDesignations accepts several abbreviation spellings.
var managementDesignations = map[string]bool{
	"ceo":                     true,
	"c.e.o":                   true,
	"c.e.o.":                  true,
	"chief executive officer": true,
	"chief executive":         true,
	"director":                true,
	"managing director":       true,
	"md":                      true,
	"m.d":                     true,
	"m.d.":                    true,
	"general manager":         true,
	"gm":                      true,
	"g.m":                     true,
	"g.m.":                    true,
	"executive director":      true,
	"chairman":                true,
	"president":               true,
	"owner":                   true,
	"founder":                 true,
	"co-founder":              true,
	"partner":                 true,
}

// CanonicalRole maps a department/designation pair onto an OrgRole.
// Management requires both the department and a recognised designation.
func CanonicalRole(department, designation string) OrgRole {
	dept := normalizeLabel(department)
	switch {
	case hrDepartments[dept]:
		return OrgRoleHR
	case financeDepartments[dept]:
		return OrgRoleFinance
	case managementDepartments[dept] && managementDesignations[normalizeLabel(designation)]:
		return OrgRoleManagement
	}
	return OrgRoleNone
}

// normalizeLabel lower-cases and collapses internal whitespace.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
