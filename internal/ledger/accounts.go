package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/GiorgiUbiria/secure_banking/internal/mirror"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/shopspring/decimal"
)

// OpenAccount creates an active account for owner with initialDeposit as its
// opening balance. A non-zero deposit is recorded as a completed credit.
func (l *Ledger) OpenAccount(ctx context.Context, owner *models.User, accountType models.AccountType, initialDeposit decimal.Decimal) (*models.Account, error) {
	if !owner.Active {
		return nil, fmt.Errorf("%w: user %d", ErrInactiveUser, owner.ID)
	}
	if initialDeposit.IsNegative() || !initialDeposit.Equal(initialDeposit.Round(2)) {
		return nil, fmt.Errorf("%w: initial deposit %s", ErrInvalidAmount, initialDeposit)
	}
	if _, err := models.ParseAccountType(string(accountType)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}

	acc := &models.Account{UserID: owner.ID, Type: accountType, Balance: initialDeposit, Active: true}
	err := l.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.SaveAccount(ctx, acc); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if initialDeposit.IsZero() {
			return nil
		}

		t := &models.Transaction{
			UserID:    owner.ID,
			AccountID: acc.ID,
			Direction: models.Credit,
			Amount:    initialDeposit,
			Status:    models.TransactionCompleted,
		}
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return fmt.Errorf("save opening deposit: %w", err)
		}
		ev, err := mirror.NewEvent(t, acc.Balance.StringFixed(2), l.now())
		if err != nil {
			return err
		}
		return tx.EnqueueMirrorEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Accounts lists every account of userID, closed ones included.
func (l *Ledger) Accounts(ctx context.Context, userID uint) ([]models.Account, error) {
	return l.store.FindAccountsByOwner(ctx, userID)
}

func (l *Ledger) Account(ctx context.Context, accountID uint) (*models.Account, error) {
	acc, err := l.store.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: account %d", ErrInvalidAccount, accountID)
		}
		return nil, err
	}
	return acc, nil
}

// CloseAccount deactivates the account. The row and its history are kept.
func (l *Ledger) CloseAccount(ctx context.Context, accountID uint) (*models.Account, error) {
	return l.updateAccount(ctx, accountID, func(tx store.Store, acc *models.Account) error {
		return tx.DeleteAccount(ctx, acc)
	})
}

func (l *Ledger) ChangeAccountType(ctx context.Context, accountID uint, accountType models.AccountType) (*models.Account, error) {
	if _, err := models.ParseAccountType(string(accountType)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return l.updateAccount(ctx, accountID, func(tx store.Store, acc *models.Account) error {
		acc.Type = accountType
		return tx.SaveAccount(ctx, acc)
	})
}

// updateAccount runs fn on the locked account so it cannot interleave with
// a balance change of the same owner.
func (l *Ledger) updateAccount(ctx context.Context, accountID uint, fn func(tx store.Store, acc *models.Account) error) (*models.Account, error) {
	current, err := l.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	release, err := l.LockOwner(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	var out models.Account
	err = l.store.Transaction(ctx, func(tx store.Store) error {
		owned, err := tx.FindAccountsByOwnerForUpdate(ctx, current.UserID)
		if err != nil {
			return err
		}
		acc := pick(owned, accountID)
		if acc == nil {
			return fmt.Errorf("%w: account %d", ErrInvalidAccount, accountID)
		}
		if err := fn(tx, acc); err != nil {
			return err
		}
		out = *acc
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}
