package auth

import (
	"strings"

	"library_service/pkg/models"
)

// Rule grants access to requests whose method and path match. Pattern segments
// are literal, "*" for exactly one segment, or a trailing "**" for any rest.
// Method "*" matches every verb. An empty Roles list means public.
type Rule struct {
	Method  string
	Pattern string
	Roles   []models.Role
}

func (r Rule) Public() bool { return len(r.Roles) == 0 }

func (r Rule) Allows(role models.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

func (r Rule) Matches(method, path string) bool {
	if r.Method != "*" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return matchPath(splitPath(r.Pattern), splitPath(path))
}

// Policy is an ordered rule table. The first matching rule decides; requests
// that match nothing are denied.
type Policy struct {
	rules []Rule
}

func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: rules}
}

func (p *Policy) Find(method, path string) (Rule, bool) {
	for _, rule := range p.rules {
		if rule.Matches(method, path) {
			return rule, true
		}
	}
	return Rule{}, false
}

var (
	anyRole   = []models.Role{models.RoleUser, models.RoleStaff, models.RoleAdmin}
	staffOnly = []models.Role{models.RoleStaff, models.RoleAdmin}
	adminOnly = []models.Role{models.RoleAdmin}
)

// DefaultPolicy is the route table for the /api/v1 surface.
func DefaultPolicy() *Policy {
	const api = "/api/v1"
	return NewPolicy(
		Rule{"GET", "/manage/health", nil},

		Rule{"POST", api + "/auth/change-password", anyRole},
		Rule{"*", api + "/auth/**", nil},
		Rule{"GET", api + "/me", anyRole},

		Rule{"GET", api + "/books/**", anyRole},
		Rule{"GET", api + "/copies/**", anyRole},
		Rule{"*", api + "/books/**", staffOnly},
		Rule{"*", api + "/copies/**", staffOnly},

		Rule{"POST", api + "/loans/mark-overdue", staffOnly},
		Rule{"GET", api + "/loans/overdue", staffOnly},
		Rule{"GET", api + "/loans/borrowed-between", staffOnly},
		Rule{"GET", api + "/loans/due-between", staffOnly},
		Rule{"GET", api + "/loans/copy/*", staffOnly},
		Rule{"GET", api + "/loans", staffOnly},
		Rule{"POST", api + "/loans", anyRole},
		Rule{"GET", api + "/loans/user/**", anyRole},
		Rule{"GET", api + "/loans/*", anyRole},
		Rule{"POST", api + "/loans/*/return", anyRole},

		Rule{"GET", api + "/fines/user/**", anyRole},
		Rule{"GET", api + "/fines/loan/*", anyRole},
		Rule{"GET", api + "/fines/stats", staffOnly},
		Rule{"GET", api + "/fines", staffOnly},
		Rule{"GET", api + "/fines/*", anyRole},
		Rule{"*", api + "/fines/**", staffOnly},

		Rule{"POST", api + "/payments", anyRole},
		Rule{"GET", api + "/payments/user/**", anyRole},
		Rule{"GET", api + "/payments/fine/**", anyRole},
		Rule{"GET", api + "/payments/revenue", staffOnly},
		Rule{"GET", api + "/payments/exists", staffOnly},
		Rule{"GET", api + "/payments", staffOnly},
		Rule{"GET", api + "/payments/*", anyRole},
		Rule{"*", api + "/payments/**", staffOnly},

		Rule{"DELETE", api + "/patrons/*", adminOnly},
		Rule{"*", api + "/patrons/**", staffOnly},
		Rule{"*", api + "/staff/**", adminOnly},
	)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func matchPath(pattern, path []string) bool {
	for i, segment := range pattern {
		if segment == "**" {
			return true
		}
		if i >= len(path) {
			return false
		}
		if segment != "*" && segment != path[i] {
			return false
		}
	}
	return len(pattern) == len(path)
}
