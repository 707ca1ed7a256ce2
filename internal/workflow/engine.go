// Package workflow runs the approval state machine. Requests start PENDING
// and are resolved exactly once; an approval and its effect commit together.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/authz"
	"github.com/GiorgiUbiria/secure_banking/internal/ledger"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"go.uber.org/zap"
)

// Ledger is the part of the account ledger that resolving a critical
// transaction needs. *ledger.Ledger implements it.
type Ledger interface {
	LockOwner(ctx context.Context, userID uint) (func(), error)
	HeldTransaction(ctx context.Context, transactionID uint) (*models.Transaction, error)
	ReleaseHeld(ctx context.Context, tx store.Store, transactionID uint) (*models.Transaction, error)
	DiscardHeld(ctx context.Context, tx store.Store, transactionID uint) (*models.Transaction, error)
}

type Engine struct {
	store  store.Store
	ledger Ledger
	now    func() time.Time
}

func NewEngine(s store.Store, l Ledger) *Engine {
	return &Engine{store: s, ledger: l, now: time.Now}
}

// Submit creates a PENDING request of type t on behalf of requester.
func (e *Engine) Submit(ctx context.Context, requester *models.User, t models.RequestType, payload models.RequestPayload) (*models.Request, error) {
	if !requester.Active {
		return nil, fmt.Errorf("%w: user %d is not active", authz.ErrForbidden, requester.ID)
	}
	if err := authz.Check(t, requester.Role, authz.ActionCreate); err != nil {
		return nil, err
	}

	payload = normalizePayload(t, payload)
	if err := validatePayload(t, payload); err != nil {
		return nil, err
	}
	if t == models.RequestCriticalTransaction {
		if _, err := e.ledger.HeldTransaction(ctx, payload.TransactionID); err != nil {
			if errors.Is(err, ledger.ErrNotHeld) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
			return nil, err
		}
	}

	pending, err := e.store.FindPendingRequests(ctx, []models.RequestType{t})
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if duplicates(p, requester.ID, payload) {
			return nil, fmt.Errorf("%w: request %d", ErrDuplicateRequest, p.ID)
		}
	}

	req := &models.Request{
		Type:        t,
		RequesterID: requester.ID,
		Payload:     payload,
		Status:      models.StatusPending,
	}
	if err := e.store.SaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("save request: %w", err)
	}

	logger.Log.Info("request submitted",
		zap.Uint("request_id", req.ID),
		zap.String("type", string(t)),
		zap.Uint("requester_id", requester.ID))
	return req, nil
}

// duplicates reports whether pending p already asks for what a new request
// from requesterID with payload would.
func duplicates(p models.Request, requesterID uint, payload models.RequestPayload) bool {
	if p.Type == models.RequestCriticalTransaction {
		return p.Payload.TransactionID == payload.TransactionID
	}
	return p.RequesterID == requesterID && p.Type != models.RequestProfileUpdate
}

// Resolve applies decision to the request. Concurrent calls on the same id
// produce exactly one winner; the others get ErrAlreadyResolved. When the
// effect fails the request stays PENDING and the error is returned.
func (e *Engine) Resolve(ctx context.Context, requestID uint, resolver *models.User, decision Decision) (*models.Request, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return nil, err
	}

	req, err := findRequest(ctx, e.store.FindRequest, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: request %d is %s", ErrAlreadyResolved, req.ID, req.Status)
	}
	if err := authorize(req, resolver); err != nil {
		return nil, err
	}

	// Balance changes take the owner lock before the store transaction,
	// the same order SelfTransfer uses.
	if req.Type == models.RequestCriticalTransaction {
		release, err := e.lockHeldOwner(ctx, req.Payload.TransactionID, resolver, decision)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var resolved *models.Request
	err = e.store.Transaction(ctx, func(tx store.Store) error {
		current, err := findRequest(ctx, tx.FindRequestForUpdate, requestID)
		if err != nil {
			return err
		}
		outcome, err := Decide(*current, decision)
		if err != nil {
			return err
		}
		if err := e.apply(ctx, tx, outcome.Effect); err != nil {
			return err
		}

		now := e.now()
		resolverID := resolver.ID
		current.Status = outcome.Status
		current.ResolverID = &resolverID
		current.ResolvedAt = &now
		if err := tx.ResolveRequest(ctx, current); err != nil {
			if errors.Is(err, store.ErrStaleRequest) {
				return fmt.Errorf("%w: request %d", ErrAlreadyResolved, requestID)
			}
			return err
		}
		resolved = current
		return nil
	})
	if err != nil {
		logger.Log.Warn("request resolution failed",
			zap.Uint("request_id", requestID),
			zap.Uint("resolver_id", resolver.ID),
			zap.Error(err))
		return nil, err
	}

	logger.Log.Info("request resolved",
		zap.Uint("request_id", resolved.ID),
		zap.String("type", string(resolved.Type)),
		zap.String("status", string(resolved.Status)),
		zap.Uint("resolver_id", resolver.ID))
	return resolved, nil
}

func findRequest(ctx context.Context, find func(context.Context, uint) (*models.Request, error), id uint) (*models.Request, error) {
	req, err := find(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
		}
		return nil, err
	}
	return req, nil
}

func authorize(req *models.Request, resolver *models.User) error {
	if !resolver.Active {
		return fmt.Errorf("%w: user %d is not active", ErrUnauthorized, resolver.ID)
	}
	if err := authz.Check(req.Type, resolver.Role, authz.ActionResolve); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if authz.RequiresDistinct(req.Type) && resolver.ID == req.RequesterID {
		return fmt.Errorf("%w: requester cannot resolve own %s request", ErrUnauthorized, req.Type)
	}
	return nil
}

// lockHeldOwner locks the accounts of the user the held transaction belongs
// to. The owner counts as the maker of a critical transaction and may not
// resolve it. A decline of a transaction that is no longer held needs no lock.
func (e *Engine) lockHeldOwner(ctx context.Context, transactionID uint, resolver *models.User, decision Decision) (func(), error) {
	t, err := e.ledger.HeldTransaction(ctx, transactionID)
	if err != nil {
		if decision == Decline && errors.Is(err, ledger.ErrNotHeld) {
			return func() {}, nil
		}
		return nil, err
	}
	if t.UserID == resolver.ID {
		return nil, fmt.Errorf("%w: user %d owns transaction %d", ErrUnauthorized, resolver.ID, transactionID)
	}
	return e.ledger.LockOwner(ctx, t.UserID)
}

func (e *Engine) apply(ctx context.Context, tx store.Store, eff Effect) error {
	switch eff.Kind {
	case EffectNone:
		return nil
	case EffectSetRole:
		if err := tx.SetRole(ctx, eff.UserID, eff.Role); err != nil {
			return fmt.Errorf("set role of user %d: %w", eff.UserID, err)
		}
	case EffectApplyProfile:
		if err := tx.ApplyProfileDiff(ctx, eff.UserID, eff.Profile); err != nil {
			return fmt.Errorf("update profile of user %d: %w", eff.UserID, err)
		}
	case EffectReleaseTransaction:
		if _, err := e.ledger.ReleaseHeld(ctx, tx, eff.TransactionID); err != nil {
			return fmt.Errorf("release transaction %d: %w", eff.TransactionID, err)
		}
	case EffectDiscardTransaction:
		if _, err := e.ledger.DiscardHeld(ctx, tx, eff.TransactionID); err != nil && !errors.Is(err, ledger.ErrNotHeld) {
			return fmt.Errorf("discard transaction %d: %w", eff.TransactionID, err)
		}
	default:
		return fmt.Errorf("unknown effect %q", eff.Kind)
	}
	return nil
}

// ListPendingFor returns the PENDING requests role may resolve, oldest first.
func (e *Engine) ListPendingFor(ctx context.Context, role models.Role) ([]models.Request, error) {
	types := authz.ResolvableBy(role)
	if len(types) == 0 {
		return nil, nil
	}
	return e.store.FindPendingRequests(ctx, types)
}

func (e *Engine) ListByRequester(ctx context.Context, userID uint) ([]models.Request, error) {
	return e.store.FindRequestsByRequester(ctx, userID)
}

func (e *Engine) Request(ctx context.Context, id uint) (*models.Request, error) {
	return findRequest(ctx, e.store.FindRequest, id)
}
