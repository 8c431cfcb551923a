package assign

import "sort"

const (
	RoleProjectManager     = "project_manager"
	RoleFullStackDeveloper = "full_stack_developer"
	RoleQAEngineer         = "qa_engineer"
)

var defaultProfiles = map[string]map[string]float64{
	RoleProjectManager: {
		"project_coordination": 0.9,
		"quality_assurance":    0.8,
		"communication":        0.9,
		"risk_management":      0.7,
		"planning":             0.8,
	},
	RoleFullStackDeveloper: {
		"frontend_development":     0.8,
		"backend_development":      0.8,
		"database_design":          0.7,
		"testing":                  0.6,
		"performance_optimization": 0.7,
	},
	RoleQAEngineer: {
		"test_automation":         0.9,
		"manual_testing":          0.8,
		"performance_testing":     0.7,
		"security_testing":        0.6,
		"user_acceptance_testing": 0.8,
	},
}

// DefaultProfile returns a copy of the built-in capability vector for role.
func DefaultProfile(role string) (map[string]float64, bool) {
	p, ok := defaultProfiles[role]
	if !ok {
		return nil, false
	}
	cp := make(map[string]float64, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp, true
}

// ProfileRoles lists roles that have a built-in profile.
func ProfileRoles() []string {
	roles := make([]string, 0, len(defaultProfiles))
	for r := range defaultProfiles {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// ResolveCapabilities prefers explicit capabilities and falls back to the
// role's profile.
func ResolveCapabilities(role string, explicit map[string]float64) (map[string]float64, bool) {
	if len(explicit) > 0 {
		return explicit, true
	}
	return DefaultProfile(role)
}
