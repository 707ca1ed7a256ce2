// Package authz holds the allow-table that decides which roles may create
// and resolve each kind of approval request.
package authz

import (
	"errors"
	"fmt"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
)

var ErrForbidden = errors.New("forbidden")

type Action string

const (
	ActionCreate  Action = "create"
	ActionResolve Action = "resolve"
)

type Rule struct {
	Requesters []models.Role
	Resolvers  []models.Role
	// Distinct requires the resolver to be a different user than the requester.
	Distinct bool
}

var rules = map[models.RequestType]Rule{
	models.RequestRolePromotion: {
		Requesters: []models.Role{models.RoleTier1},
		Resolvers:  []models.Role{models.RoleAdmin},
		Distinct:   true,
	},
	models.RequestRoleDemotion: {
		Requesters: []models.Role{models.RoleTier2},
		Resolvers:  []models.Role{models.RoleAdmin},
		Distinct:   true,
	},
	models.RequestProfileUpdate: {
		Requesters: []models.Role{models.RoleTier1, models.RoleTier2},
		Resolvers:  []models.Role{models.RoleAdmin},
		Distinct:   true,
	},
	models.RequestCriticalTransaction: {
		Requesters: []models.Role{models.RoleTier1},
		Resolvers:  []models.Role{models.RoleTier2},
		Distinct:   true,
	},
}

func RuleFor(t models.RequestType) (Rule, bool) {
	r, ok := rules[t]
	return r, ok
}

// Check returns ErrForbidden unless role may perform action on requests of type t.
func Check(t models.RequestType, role models.Role, action Action) error {
	rule, ok := rules[t]
	if !ok {
		return fmt.Errorf("%w: unknown request type %q", ErrForbidden, t)
	}

	var allowed []models.Role
	switch action {
	case ActionCreate:
		allowed = rule.Requesters
	case ActionResolve:
		allowed = rule.Resolvers
	default:
		return fmt.Errorf("%w: unknown action %q", ErrForbidden, action)
	}

	for _, r := range allowed {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s cannot %s %s requests", ErrForbidden, role, action, t)
}

func RequiresDistinct(t models.RequestType) bool {
	return rules[t].Distinct
}

// ResolvableBy lists the request types role may resolve, in declaration order.
func ResolvableBy(role models.Role) []models.RequestType {
	var out []models.RequestType
	for _, t := range models.RequestTypes {
		if Check(t, role, ActionResolve) == nil {
			out = append(out, t)
		}
	}
	return out
}

// deactivators lists, per actor role, the roles whose users the actor may
// deactivate: admins manage employees, tier2 employees manage customers.
var deactivators = map[models.Role][]models.Role{
	models.RoleAdmin: {models.RoleTier1, models.RoleTier2},
	models.RoleTier2: {models.RoleCustomer},
}

// CanDeactivate returns ErrForbidden unless actor may deactivate a user
// holding target.
func CanDeactivate(actor, target models.Role) error {
	for _, r := range deactivators[actor] {
		if r == target {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s cannot deactivate %s users", ErrForbidden, actor, target)
}
