// Package ledger owns account balances. Every balance change runs under an
// exclusive lock on all accounts of the owning user and commits together
// with its transaction record and mirror outbox row.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/lock"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/mirror"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	// LockTimeout bounds the wait for the per-user lock. Zero waits as long
	// as the caller's context allows.
	LockTimeout time.Duration
	Policy      Policy
}

type Ledger struct {
	store  store.Store
	locker lock.Locker
	cfg    Config
	now    func() time.Time
}

func New(s store.Store, l lock.Locker, cfg Config) *Ledger {
	return &Ledger{store: s, locker: l, cfg: cfg, now: time.Now}
}

func ownerKey(userID uint) string {
	return fmt.Sprintf("ledger:owner:%d", userID)
}

// LockOwner takes the exclusive lock covering every account of userID.
func (l *Ledger) LockOwner(ctx context.Context, userID uint) (func(), error) {
	lockCtx := ctx
	if l.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.cfg.LockTimeout)
		defer cancel()
	}

	release, err := l.locker.Lock(lockCtx, ownerKey(userID))
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			logger.Log.Warn("account lock wait timed out", zap.Uint("user_id", userID))
			return nil, fmt.Errorf("%w: user %d", ErrLockTimeout, userID)
		}
		return nil, fmt.Errorf("lock accounts of user %d: %w", userID, err)
	}
	return release, nil
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount)
	}
	return nil
}

// credit adds amount to acc in memory; acc is untouched on error.
func credit(acc *models.Account, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if !acc.Active {
		return fmt.Errorf("%w: account %d", ErrInactiveAccount, acc.ID)
	}
	acc.Balance = acc.Balance.Add(amount)
	return nil
}

// debit subtracts amount from acc in memory; acc is untouched on error.
func debit(acc *models.Account, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if !acc.Active {
		return fmt.Errorf("%w: account %d", ErrInactiveAccount, acc.ID)
	}
	if acc.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, acc.Balance.StringFixed(2), amount.StringFixed(2))
	}
	acc.Balance = acc.Balance.Sub(amount)
	return nil
}

func move(acc *models.Account, dir models.Direction, amount decimal.Decimal) error {
	switch dir {
	case models.Credit:
		return credit(acc, amount)
	case models.Debit:
		return debit(acc, amount)
	}
	return fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
}

// apply moves money on acc and persists the balance, the transaction and
// its mirror event through tx.
func (l *Ledger) apply(ctx context.Context, tx store.Store, acc *models.Account, t *models.Transaction) error {
	next := *acc
	if err := move(&next, t.Direction, t.Amount); err != nil {
		return err
	}
	if err := tx.SaveAccount(ctx, &next); err != nil {
		return fmt.Errorf("save account %d: %w", acc.ID, err)
	}

	t.Status = models.TransactionCompleted
	if err := tx.SaveTransaction(ctx, t); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}

	ev, err := mirror.NewEvent(t, next.Balance.StringFixed(2), l.now())
	if err != nil {
		return err
	}
	if err := tx.EnqueueMirrorEvent(ctx, ev); err != nil {
		return fmt.Errorf("enqueue mirror event: %w", err)
	}

	*acc = next
	return nil
}

func pick(accounts []models.Account, id uint) *models.Account {
	for i := range accounts {
		if accounts[i].ID == id {
			return &accounts[i]
		}
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, store.ErrLockTimeout) && !errors.Is(err, ErrLockTimeout) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}

// Credit adds amount to account and persists it. On success account holds
// the committed state.
func (l *Ledger) Credit(ctx context.Context, account *models.Account, amount decimal.Decimal) error {
	_, err := l.mutate(ctx, account, models.Credit, amount)
	return err
}

// Debit subtracts amount from account and persists it. An inactive account
// is rejected before funds are checked.
func (l *Ledger) Debit(ctx context.Context, account *models.Account, amount decimal.Decimal) error {
	_, err := l.mutate(ctx, account, models.Debit, amount)
	return err
}

func (l *Ledger) mutate(ctx context.Context, account *models.Account, dir models.Direction, amount decimal.Decimal) (*models.Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	release, err := l.LockOwner(ctx, account.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		committed models.Account
		t         *models.Transaction
	)
	err = l.store.Transaction(ctx, func(tx store.Store) error {
		owned, err := tx.FindAccountsByOwnerForUpdate(ctx, account.UserID)
		if err != nil {
			return err
		}
		acc := pick(owned, account.ID)
		if acc == nil {
			return fmt.Errorf("%w: account %d", ErrInvalidAccount, account.ID)
		}

		t = &models.Transaction{UserID: acc.UserID, AccountID: acc.ID, Direction: dir, Amount: amount}
		if err := l.apply(ctx, tx, acc, t); err != nil {
			return err
		}
		committed = *acc
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	*account = committed
	return t, nil
}

// SelfTransfer credits or debits one of currentUser's own accounts. When the
// policy flags the operation it is stored as a HELD transaction and the
// balance is left unchanged until the transaction is released.
func (l *Ledger) SelfTransfer(ctx context.Context, currentUser *models.User, accountID uint, amount decimal.Decimal, dir models.Direction) (*models.Transaction, error) {
	if !currentUser.Active {
		return nil, fmt.Errorf("%w: user %d", ErrInactiveUser, currentUser.ID)
	}
	if dir != models.Credit && dir != models.Debit {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	release, err := l.LockOwner(ctx, currentUser.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var t *models.Transaction
	err = l.store.Transaction(ctx, func(tx store.Store) error {
		if err := activeOwner(ctx, tx, currentUser.ID); err != nil {
			return err
		}
		owned, err := tx.FindAccountsByOwnerForUpdate(ctx, currentUser.ID)
		if err != nil {
			return err
		}

		acc := pick(owned, accountID)
		if acc == nil {
			if _, err := tx.FindAccount(ctx, accountID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: account %d", ErrInvalidAccount, accountID)
				}
				return err
			}
			return fmt.Errorf("%w: account %d, user %d", ErrAccountNotOwned, accountID, currentUser.ID)
		}

		t = &models.Transaction{UserID: currentUser.ID, AccountID: acc.ID, Direction: dir, Amount: amount}

		if l.cfg.Policy.RequiresApproval(dir, amount) {
			if !acc.Active {
				return fmt.Errorf("%w: account %d", ErrInactiveAccount, acc.ID)
			}
			t.Status = models.TransactionHeld
			return tx.SaveTransaction(ctx, t)
		}
		return l.apply(ctx, tx, acc, t)
	})
	if err != nil {
		return nil, translate(err)
	}

	logger.Log.Info("self transfer",
		zap.Uint("user_id", currentUser.ID),
		zap.Uint("account_id", accountID),
		zap.String("direction", string(dir)),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("status", string(t.Status)))
	return t, nil
}

// activeOwner re-reads userID inside tx. The owner lock serializes it with
// DeactivateUser, so a user deactivated after authentication is still caught.
func activeOwner(ctx context.Context, tx store.Store, userID uint) error {
	u, err := tx.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %d", ErrUserNotFound, userID)
		}
		return err
	}
	if !u.Active {
		return fmt.Errorf("%w: user %d", ErrInactiveUser, userID)
	}
	return nil
}

// ReleaseHeld applies a HELD transaction through tx. The caller must hold
// LockOwner for the transaction's user. A transaction whose owner has been
// deactivated since it was held is not applied.
func (l *Ledger) ReleaseHeld(ctx context.Context, tx store.Store, transactionID uint) (*models.Transaction, error) {
	t, err := l.heldTransaction(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := activeOwner(ctx, tx, t.UserID); err != nil {
		return nil, err
	}

	owned, err := tx.FindAccountsByOwnerForUpdate(ctx, t.UserID)
	if err != nil {
		return nil, translate(err)
	}
	acc := pick(owned, t.AccountID)
	if acc == nil {
		return nil, fmt.Errorf("%w: account %d", ErrInvalidAccount, t.AccountID)
	}
	if err := l.apply(ctx, tx, acc, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DiscardHeld marks a HELD transaction DECLINED without touching balances.
func (l *Ledger) DiscardHeld(ctx context.Context, tx store.Store, transactionID uint) (*models.Transaction, error) {
	t, err := l.heldTransaction(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	t.Status = models.TransactionDeclined
	if err := tx.SaveTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}
	return t, nil
}

// HeldTransaction returns transactionID if it is awaiting approval.
func (l *Ledger) HeldTransaction(ctx context.Context, transactionID uint) (*models.Transaction, error) {
	return l.heldTransaction(ctx, l.store, transactionID)
}

func (l *Ledger) heldTransaction(ctx context.Context, s store.Store, transactionID uint) (*models.Transaction, error) {
	t, err := s.FindTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %d not found", ErrNotHeld, transactionID)
		}
		return nil, err
	}
	if t.Status != models.TransactionHeld {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrNotHeld, transactionID, t.Status)
	}
	return t, nil
}
