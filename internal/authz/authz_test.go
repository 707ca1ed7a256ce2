package authz

import (
	"testing"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCheckTable(t *testing.T) {
	tests := []struct {
		name    string
		reqType models.RequestType
		role    models.Role
		action  Action
		allowed bool
	}{
		{"tier1 asks promotion", models.RequestRolePromotion, models.RoleTier1, ActionCreate, true},
		{"tier2 cannot ask promotion", models.RequestRolePromotion, models.RoleTier2, ActionCreate, false},
		{"admin resolves promotion", models.RequestRolePromotion, models.RoleAdmin, ActionResolve, true},
		{"tier2 cannot resolve promotion", models.RequestRolePromotion, models.RoleTier2, ActionResolve, false},
		{"tier2 asks demotion", models.RequestRoleDemotion, models.RoleTier2, ActionCreate, true},
		{"tier1 cannot ask demotion", models.RequestRoleDemotion, models.RoleTier1, ActionCreate, false},
		{"tier1 asks profile update", models.RequestProfileUpdate, models.RoleTier1, ActionCreate, true},
		{"tier2 asks profile update", models.RequestProfileUpdate, models.RoleTier2, ActionCreate, true},
		{"customer cannot ask profile update", models.RequestProfileUpdate, models.RoleCustomer, ActionCreate, false},
		{"tier1 flags critical transaction", models.RequestCriticalTransaction, models.RoleTier1, ActionCreate, true},
		{"tier2 resolves critical transaction", models.RequestCriticalTransaction, models.RoleTier2, ActionResolve, true},
		{"admin cannot resolve critical transaction", models.RequestCriticalTransaction, models.RoleAdmin, ActionResolve, false},
		{"unknown type", models.RequestType("bogus"), models.RoleAdmin, ActionResolve, false},
		{"unknown action", models.RequestRolePromotion, models.RoleTier1, Action("delete"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.reqType, tt.role, tt.action)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestEveryRequestTypeHasRule(t *testing.T) {
	for _, rt := range models.RequestTypes {
		rule, ok := RuleFor(rt)
		assert.True(t, ok, rt)
		assert.NotEmpty(t, rule.Requesters, rt)
		assert.NotEmpty(t, rule.Resolvers, rt)
		assert.True(t, RequiresDistinct(rt), rt)
	}
}

func TestResolvableBy(t *testing.T) {
	assert.Equal(t, []models.RequestType{
		models.RequestRolePromotion,
		models.RequestRoleDemotion,
		models.RequestProfileUpdate,
	}, ResolvableBy(models.RoleAdmin))
	assert.Equal(t, []models.RequestType{models.RequestCriticalTransaction}, ResolvableBy(models.RoleTier2))
	assert.Empty(t, ResolvableBy(models.RoleTier1))
	assert.Empty(t, ResolvableBy(models.RoleCustomer))
}

func TestCanDeactivate(t *testing.T) {
	tests := []struct {
		actor, target models.Role
		allowed       bool
	}{
		{models.RoleAdmin, models.RoleTier1, true},
		{models.RoleAdmin, models.RoleTier2, true},
		{models.RoleAdmin, models.RoleAdmin, false},
		{models.RoleAdmin, models.RoleCustomer, false},
		{models.RoleTier2, models.RoleCustomer, true},
		{models.RoleTier2, models.RoleTier1, false},
		{models.RoleTier1, models.RoleCustomer, false},
		{models.RoleCustomer, models.RoleCustomer, false},
	}
	for _, tt := range tests {
		err := CanDeactivate(tt.actor, tt.target)
		if tt.allowed {
			assert.NoError(t, err, "%s -> %s", tt.actor, tt.target)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s -> %s", tt.actor, tt.target)
		}
	}
}
