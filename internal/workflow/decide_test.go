package workflow

import (
	"testing"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDecide(t *testing.T) {
	profile := &models.ProfileDiff{Email: strPtr("new@bank.local")}

	tests := []struct {
		name     string
		req      models.Request
		decision Decision
		want     Outcome
		wantErr  error
	}{
		{
			name:     "promotion approved",
			req:      models.Request{Type: models.RequestRolePromotion, RequesterID: 7, Status: models.StatusPending, Payload: models.RequestPayload{TargetRole: models.RoleTier2}},
			decision: Approve,
			want:     Outcome{Status: models.StatusApproved, Effect: Effect{Kind: EffectSetRole, UserID: 7, Role: models.RoleTier2}},
		},
		{
			name:     "demotion approved",
			req:      models.Request{Type: models.RequestRoleDemotion, RequesterID: 8, Status: models.StatusPending, Payload: models.RequestPayload{TargetRole: models.RoleTier1}},
			decision: Approve,
			want:     Outcome{Status: models.StatusApproved, Effect: Effect{Kind: EffectSetRole, UserID: 8, Role: models.RoleTier1}},
		},
		{
			name:     "profile approved",
			req:      models.Request{Type: models.RequestProfileUpdate, RequesterID: 9, Status: models.StatusPending, Payload: models.RequestPayload{Profile: profile}},
			decision: Approve,
			want:     Outcome{Status: models.StatusApproved, Effect: Effect{Kind: EffectApplyProfile, UserID: 9, Profile: *profile}},
		},
		{
			name:     "critical approved",
			req:      models.Request{Type: models.RequestCriticalTransaction, RequesterID: 2, Status: models.StatusPending, Payload: models.RequestPayload{TransactionID: 31}},
			decision: Approve,
			want:     Outcome{Status: models.StatusApproved, Effect: Effect{Kind: EffectReleaseTransaction, TransactionID: 31}},
		},
		{
			name:     "critical declined",
			req:      models.Request{Type: models.RequestCriticalTransaction, RequesterID: 2, Status: models.StatusPending, Payload: models.RequestPayload{TransactionID: 31}},
			decision: Decline,
			want:     Outcome{Status: models.StatusDeclined, Effect: Effect{Kind: EffectDiscardTransaction, TransactionID: 31}},
		},
		{
			name:     "promotion declined",
			req:      models.Request{Type: models.RequestRolePromotion, RequesterID: 7, Status: models.StatusPending, Payload: models.RequestPayload{TargetRole: models.RoleTier2}},
			decision: Decline,
			want:     Outcome{Status: models.StatusDeclined, Effect: Effect{Kind: EffectNone}},
		},
		{
			name:     "already approved",
			req:      models.Request{Type: models.RequestRolePromotion, Status: models.StatusApproved, Payload: models.RequestPayload{TargetRole: models.RoleTier2}},
			decision: Decline,
			wantErr:  ErrAlreadyResolved,
		},
		{
			name:     "promotion to admin",
			req:      models.Request{Type: models.RequestRolePromotion, Status: models.StatusPending, Payload: models.RequestPayload{TargetRole: models.RoleAdmin}},
			decision: Approve,
			wantErr:  ErrInvalidPayload,
		},
		{
			name:     "empty profile",
			req:      models.Request{Type: models.RequestProfileUpdate, Status: models.StatusPending, Payload: models.RequestPayload{Profile: &models.ProfileDiff{}}},
			decision: Approve,
			wantErr:  ErrInvalidPayload,
		},
		{
			name:     "unknown decision",
			req:      models.Request{Type: models.RequestRolePromotion, Status: models.StatusPending, Payload: models.RequestPayload{TargetRole: models.RoleTier2}},
			decision: Decision("maybe"),
			wantErr:  ErrInvalidDecision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.req, tt.decision)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePayloadDefaultsTargetRole(t *testing.T) {
	p := normalizePayload(models.RequestRolePromotion, models.RequestPayload{TransactionID: 4})
	assert.Equal(t, models.RequestPayload{TargetRole: models.RoleTier2}, p)

	p = normalizePayload(models.RequestRoleDemotion, models.RequestPayload{})
	assert.Equal(t, models.RoleTier1, p.TargetRole)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("approve")
	require.NoError(t, err)
	assert.Equal(t, Approve, d)

	_, err = ParseDecision("APPROVE")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}
