package seed

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/GiorgiUbiria/secure_banking/internal/ledger"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const seedPassword = "password123"

type seedAccount struct {
	Type    models.AccountType
	Balance string
}

var seedUsers = []struct {
	UserName  string
	FirstName string
	LastName  string
	Role      models.Role
	Accounts  []seedAccount
}{
	{"admin", "Ada", "Admin", models.RoleAdmin, nil},
	{"supervisor", "Sam", "Supervisor", models.RoleTier2, nil},
	{"teller", "Tia", "Teller", models.RoleTier1, nil},
	{"customer", "Cal", "Customer", models.RoleCustomer, []seedAccount{
		{models.AccountChecking, "1000.00"},
		{models.AccountSavings, "500.00"},
	}},
}

// Run creates one user per role and opens the customer's accounts. It is a
// no-op when the admin user already exists.
func Run(ctx context.Context, s store.Store, l *ledger.Ledger) error {
	_, err := s.FindUserByUserName(ctx, seedUsers[0].UserName)
	if err == nil {
		logger.Log.Info("seed already applied, skipping")
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("seed check: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}
	hashed := string(hash)

	for _, u := range seedUsers {
		user := &models.User{
			UserName:  u.UserName,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.UserName + "@bank.local",
			Password:  hashed,
			Role:      u.Role,
			Active:    true,
		}
		if err := s.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("create %s: %w", u.UserName, err)
		}
		for _, a := range u.Accounts {
			if _, err := l.OpenAccount(ctx, user, a.Type, decimal.RequireFromString(a.Balance)); err != nil {
				return fmt.Errorf("open %s account for %s: %w", a.Type, u.UserName, err)
			}
		}
	}

	logger.Log.Info("seeded users", zap.Int("count", len(seedUsers)))
	return nil
}
