package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/GiorgiUbiria/secure_banking/internal/authz"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"go.uber.org/zap"
)

// DeactivateUser soft-deletes userID on behalf of actor. Admins deactivate
// employees and tier2 employees deactivate customers. The owner lock is held
// so that no transfer or release for the user is in flight while it flips.
func (l *Ledger) DeactivateUser(ctx context.Context, actor *models.User, userID uint) (*models.User, error) {
	if !actor.Active {
		return nil, fmt.Errorf("%w: user %d", ErrInactiveUser, actor.ID)
	}
	if actor.ID == userID {
		return nil, fmt.Errorf("%w: user %d cannot deactivate themselves", authz.ErrForbidden, actor.ID)
	}

	target, err := l.activeUser(ctx, l.store, userID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanDeactivate(actor.Role, target.Role); err != nil {
		return nil, err
	}

	release, err := l.LockOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = l.store.Transaction(ctx, func(tx store.Store) error {
		u, err := l.activeUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		// Role may have changed between the pre-check and the lock.
		if err := authz.CanDeactivate(actor.Role, u.Role); err != nil {
			return err
		}
		if err := tx.DeactivateUser(ctx, userID); err != nil {
			return err
		}
		target = u
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	target.Active = false

	logger.Log.Info("user deactivated",
		zap.Uint("user_id", userID),
		zap.Uint("actor_id", actor.ID),
		zap.String("role", string(target.Role)))
	return target, nil
}

func (l *Ledger) activeUser(ctx context.Context, s store.Store, userID uint) (*models.User, error) {
	u, err := s.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrUserNotFound, userID)
		}
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("%w: user %d", ErrUserNotFound, userID)
	}
	return u, nil
}
