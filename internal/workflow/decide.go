package workflow

import (
	"fmt"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
)

type Decision string

const (
	Approve Decision = "approve"
	Decline Decision = "decline"
)

func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(raw); d {
	case Approve, Decline:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
}

type EffectKind string

const (
	EffectNone               EffectKind = "none"
	EffectSetRole            EffectKind = "set_role"
	EffectApplyProfile       EffectKind = "apply_profile"
	EffectReleaseTransaction EffectKind = "release_transaction"
	EffectDiscardTransaction EffectKind = "discard_transaction"
)

// Effect describes the domain change a resolution causes. Only the fields
// relevant to Kind are set.
type Effect struct {
	Kind          EffectKind
	UserID        uint
	Role          models.Role
	Profile       models.ProfileDiff
	TransactionID uint
}

type Outcome struct {
	Status models.RequestStatus
	Effect Effect
}

// targetRoles holds the only role a role-change request may move its
// requester to.
var targetRoles = map[models.RequestType]models.Role{
	models.RequestRolePromotion: models.RoleTier2,
	models.RequestRoleDemotion:  models.RoleTier1,
}

// Decide computes the new status of req and the effect to run when decision
// is applied to it. It has no side effects.
func Decide(req models.Request, decision Decision) (Outcome, error) {
	if req.Status != models.StatusPending {
		return Outcome{}, fmt.Errorf("%w: request %d is %s", ErrAlreadyResolved, req.ID, req.Status)
	}
	if _, err := ParseDecision(string(decision)); err != nil {
		return Outcome{}, err
	}
	if err := validatePayload(req.Type, req.Payload); err != nil {
		return Outcome{}, err
	}

	if decision == Decline {
		out := Outcome{Status: models.StatusDeclined, Effect: Effect{Kind: EffectNone}}
		if req.Type == models.RequestCriticalTransaction {
			out.Effect = Effect{Kind: EffectDiscardTransaction, TransactionID: req.Payload.TransactionID}
		}
		return out, nil
	}

	out := Outcome{Status: models.StatusApproved}
	switch req.Type {
	case models.RequestRolePromotion, models.RequestRoleDemotion:
		out.Effect = Effect{Kind: EffectSetRole, UserID: req.RequesterID, Role: req.Payload.TargetRole}
	case models.RequestProfileUpdate:
		out.Effect = Effect{Kind: EffectApplyProfile, UserID: req.RequesterID, Profile: *req.Payload.Profile}
	case models.RequestCriticalTransaction:
		out.Effect = Effect{Kind: EffectReleaseTransaction, TransactionID: req.Payload.TransactionID}
	}
	return out, nil
}

func validatePayload(t models.RequestType, p models.RequestPayload) error {
	switch t {
	case models.RequestRolePromotion, models.RequestRoleDemotion:
		if want := targetRoles[t]; p.TargetRole != want {
			return fmt.Errorf("%w: %s must target role %s, got %q", ErrInvalidPayload, t, want, p.TargetRole)
		}
	case models.RequestProfileUpdate:
		if p.Profile == nil || p.Profile.Empty() {
			return fmt.Errorf("%w: profile update without changes", ErrInvalidPayload)
		}
	case models.RequestCriticalTransaction:
		if p.TransactionID == 0 {
			return fmt.Errorf("%w: missing transaction id", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrInvalidPayload, t)
	}
	return nil
}

// normalizePayload fills defaults and drops fields that do not belong to t.
func normalizePayload(t models.RequestType, p models.RequestPayload) models.RequestPayload {
	switch t {
	case models.RequestRolePromotion, models.RequestRoleDemotion:
		role := p.TargetRole
		if role == "" {
			role = targetRoles[t]
		}
		return models.RequestPayload{TargetRole: role}
	case models.RequestProfileUpdate:
		return models.RequestPayload{Profile: p.Profile}
	case models.RequestCriticalTransaction:
		return models.RequestPayload{TransactionID: p.TransactionID}
	}
	return p
}
