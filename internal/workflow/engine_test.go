package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/authz"
	"github.com/GiorgiUbiria/secure_banking/internal/ledger"
	"github.com/GiorgiUbiria/secure_banking/internal/lock"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store  *store.Memory
	ledger *ledger.Ledger
	engine *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemory()
	l := ledger.New(s, lock.NewLocal(), ledger.Config{
		LockTimeout: time.Second,
		Policy:      ledger.Policy{CriticalThreshold: decimal.RequireFromString("1000.00")},
	})
	return &env{store: s, ledger: l, engine: NewEngine(s, l)}
}

func (e *env) user(t *testing.T, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{UserName: name, Email: name + "@bank.local", Role: role, Active: true}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *env) reload(t *testing.T, u *models.User) *models.User {
	t.Helper()
	fresh, err := e.store.FindUser(context.Background(), u.ID)
	require.NoError(t, err)
	return fresh
}

// heldDebit opens an account for owner and holds a debit of amount on it.
func (e *env) heldDebit(t *testing.T, owner *models.User, opening, amount string) (*models.Account, *models.Transaction) {
	t.Helper()
	ctx := context.Background()
	acc, err := e.ledger.OpenAccount(ctx, owner, models.AccountChecking, decimal.RequireFromString(opening))
	require.NoError(t, err)
	held, err := e.ledger.SelfTransfer(ctx, owner, acc.ID, decimal.RequireFromString(amount), models.Debit)
	require.NoError(t, err)
	require.Equal(t, models.TransactionHeld, held.Status)
	return acc, held
}

func TestPromotionApprovedByAdmin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "ursula", models.RoleTier1)
	a := e.user(t, "adam", models.RoleAdmin)

	req, err := e.engine.Submit(ctx, u, models.RequestRolePromotion, models.RequestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, models.RoleTier2, req.Payload.TargetRole)

	resolved, err := e.engine.Resolve(ctx, req.ID, a, Approve)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, resolved.Status)
	require.NotNil(t, resolved.ResolverID)
	assert.Equal(t, a.ID, *resolved.ResolverID)
	assert.NotNil(t, resolved.ResolvedAt)

	assert.Equal(t, models.RoleTier2, e.reload(t, u).Role)

	_, err = e.engine.Resolve(ctx, req.ID, a, Decline)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestDeclineLeavesRole(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "tom", models.RoleTier2)
	a := e.user(t, "ann", models.RoleAdmin)

	req, err := e.engine.Submit(ctx, u, models.RequestRoleDemotion, models.RequestPayload{TargetRole: models.RoleTier1})
	require.NoError(t, err)

	resolved, err := e.engine.Resolve(ctx, req.ID, a, Decline)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, resolved.Status)
	assert.Equal(t, models.RoleTier2, e.reload(t, u).Role)
}

func TestSubmitIsGated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	customer := e.user(t, "carl", models.RoleCustomer)
	tier2 := e.user(t, "tina", models.RoleTier2)

	_, err := e.engine.Submit(ctx, customer, models.RequestRolePromotion, models.RequestPayload{})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	_, err = e.engine.Submit(ctx, tier2, models.RequestRolePromotion, models.RequestPayload{})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	_, err = e.engine.Submit(ctx, tier2, models.RequestProfileUpdate, models.RequestPayload{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	tier1 := e.user(t, "ted", models.RoleTier1)
	tier1.Active = false
	_, err = e.engine.Submit(ctx, tier1, models.RequestRolePromotion, models.RequestPayload{})
	assert.ErrorIs(t, err, authz.ErrForbidden)
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "dora", models.RoleTier1)

	_, err := e.engine.Submit(ctx, u, models.RequestRolePromotion, models.RequestPayload{})
	require.NoError(t, err)
	_, err = e.engine.Submit(ctx, u, models.RequestRolePromotion, models.RequestPayload{})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "uma", models.RoleTier1)
	tier2 := e.user(t, "tess", models.RoleTier2)
	a := e.user(t, "al", models.RoleAdmin)

	_, err := e.engine.Resolve(ctx, 404, a, Approve)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	req, err := e.engine.Submit(ctx, u, models.RequestRolePromotion, models.RequestPayload{})
	require.NoError(t, err)

	_, err = e.engine.Resolve(ctx, req.ID, tier2, Approve)
	assert.ErrorIs(t, err, ErrUnauthorized)

	a.Active = false
	_, err = e.engine.Resolve(ctx, req.ID, a, Approve)
	assert.ErrorIs(t, err, ErrUnauthorized)

	stored, err := e.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.ResolverID)
}

func TestMakerCheckerRejectsSelfResolution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "sam", models.RoleTier2)

	req, err := e.engine.Submit(ctx, u, models.RequestRoleDemotion, models.RequestPayload{})
	require.NoError(t, err)

	// Direct admin action elevates the requester; they still cannot
	// approve their own request.
	require.NoError(t, e.store.SetRole(ctx, u.ID, models.RoleAdmin))
	_, err = e.engine.Resolve(ctx, req.ID, e.reload(t, u), Approve)
	require.ErrorIs(t, err, ErrUnauthorized)

	stored, err := e.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "pat", models.RoleTier1)
	req, err := e.engine.Submit(ctx, u, models.RequestProfileUpdate, models.RequestPayload{
		Profile: &models.ProfileDiff{FirstName: strPtr("Patricia")},
	})
	require.NoError(t, err)

	const n = 16
	admins := make([]*models.User, n)
	for i := range admins {
		admins[i] = e.user(t, "admin"+string(rune('a'+i)), models.RoleAdmin)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(resolver *models.User, decision Decision) {
			defer wg.Done()
			_, err := e.engine.Resolve(ctx, req.ID, resolver, decision)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrAlreadyResolved):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(admins[i], []Decision{Approve, Decline}[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, conflicts)

	stored, err := e.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())
}

func TestCriticalTransactionApproval(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	customer := e.user(t, "cora", models.RoleCustomer)
	teller := e.user(t, "tim", models.RoleTier1)
	supervisor := e.user(t, "sue", models.RoleTier2)

	acc, held := e.heldDebit(t, customer, "5000.00", "1500.00")

	req, err := e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	require.NoError(t, err)

	_, err = e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	_, err = e.engine.Resolve(ctx, req.ID, e.user(t, "ada", models.RoleAdmin), Approve)
	assert.ErrorIs(t, err, ErrUnauthorized)

	resolved, err := e.engine.Resolve(ctx, req.ID, supervisor, Approve)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, resolved.Status)

	after, err := e.store.FindAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "3500.00", after.Balance.StringFixed(2))

	tx, err := e.store.FindTransaction(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, tx.Status)
}

func TestOwnerCannotResolveOwnCriticalTransaction(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	supervisor := e.user(t, "sup", models.RoleTier2)
	teller := e.user(t, "tel", models.RoleTier1)

	acc, held := e.heldDebit(t, supervisor, "5000.00", "4000.00")
	req, err := e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	require.NoError(t, err)

	for _, d := range []Decision{Approve, Decline} {
		_, err = e.engine.Resolve(ctx, req.ID, supervisor, d)
		require.ErrorIs(t, err, ErrUnauthorized, d)
	}

	stored, err := e.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	after, err := e.store.FindAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", after.Balance.StringFixed(2))

	other := e.user(t, "sup2", models.RoleTier2)
	resolved, err := e.engine.Resolve(ctx, req.ID, other, Approve)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, resolved.Status)
}

func TestCriticalTransactionDecline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	customer := e.user(t, "cody", models.RoleCustomer)
	teller := e.user(t, "tara", models.RoleTier1)
	supervisor := e.user(t, "sid", models.RoleTier2)

	acc, held := e.heldDebit(t, customer, "2000.00", "1200.00")

	req, err := e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	require.NoError(t, err)

	resolved, err := e.engine.Resolve(ctx, req.ID, supervisor, Decline)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, resolved.Status)

	tx, err := e.store.FindTransaction(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionDeclined, tx.Status)

	after, err := e.store.FindAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "2000.00", after.Balance.StringFixed(2))
}

func TestFailedEffectKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	customer := e.user(t, "cleo", models.RoleCustomer)
	teller := e.user(t, "troy", models.RoleTier1)
	supervisor := e.user(t, "sara", models.RoleTier2)

	acc, held := e.heldDebit(t, customer, "2000.00", "1500.00")
	req, err := e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	require.NoError(t, err)

	// Spend the money before the approval lands.
	_, err = e.ledger.SelfTransfer(ctx, customer, acc.ID, decimal.RequireFromString("999.00"), models.Debit)
	require.NoError(t, err)

	_, err = e.engine.Resolve(ctx, req.ID, supervisor, Approve)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	stored, err := e.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.ResolverID)

	tx, err := e.store.FindTransaction(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionHeld, tx.Status)

	after, err := e.store.FindAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1001.00", after.Balance.StringFixed(2))
}

func TestSubmitCriticalNeedsHeldTransaction(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	teller := e.user(t, "tony", models.RoleTier1)

	_, err := e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: 77})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestProfileUpdateApplied(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.user(t, "paula", models.RoleTier2)
	a := e.user(t, "abe", models.RoleAdmin)

	req, err := e.engine.Submit(ctx, u, models.RequestProfileUpdate, models.RequestPayload{
		Profile:    &models.ProfileDiff{LastName: strPtr("Jones"), PhoneNumber: strPtr("555-0100")},
		TargetRole: models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Empty(t, req.Payload.TargetRole)

	_, err = e.engine.Resolve(ctx, req.ID, a, Approve)
	require.NoError(t, err)

	fresh := e.reload(t, u)
	assert.Equal(t, "Jones", fresh.LastName)
	assert.Equal(t, "555-0100", fresh.PhoneNumber)
	assert.Equal(t, models.RoleTier2, fresh.Role)
}

func TestListPendingFor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	t1 := e.user(t, "first", models.RoleTier1)
	t2 := e.user(t, "second", models.RoleTier2)
	t1b := e.user(t, "third", models.RoleTier1)
	customer := e.user(t, "cust", models.RoleCustomer)
	admin := e.user(t, "boss", models.RoleAdmin)

	promo, err := e.engine.Submit(ctx, t1, models.RequestRolePromotion, models.RequestPayload{})
	require.NoError(t, err)
	demo, err := e.engine.Submit(ctx, t2, models.RequestRoleDemotion, models.RequestPayload{})
	require.NoError(t, err)
	_, held := e.heldDebit(t, customer, "3000.00", "2000.00")
	crit, err := e.engine.Submit(ctx, t1b, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	require.NoError(t, err)
	promo2, err := e.engine.Submit(ctx, t1b, models.RequestRolePromotion, models.RequestPayload{})
	require.NoError(t, err)

	ids := func(rs []models.Request) []uint {
		out := make([]uint, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	forAdmin, err := e.engine.ListPendingFor(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []uint{promo.ID, demo.ID, promo2.ID}, ids(forAdmin))

	forTier2, err := e.engine.ListPendingFor(ctx, models.RoleTier2)
	require.NoError(t, err)
	assert.Equal(t, []uint{crit.ID}, ids(forTier2))

	forCustomer, err := e.engine.ListPendingFor(ctx, models.RoleCustomer)
	require.NoError(t, err)
	assert.Empty(t, forCustomer)

	_, err = e.engine.Resolve(ctx, demo.ID, admin, Approve)
	require.NoError(t, err)
	forAdmin, err = e.engine.ListPendingFor(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []uint{promo.ID, promo2.ID}, ids(forAdmin))

	mine, err := e.engine.ListByRequester(ctx, t1b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{crit.ID, promo2.ID}, ids(mine))
}

func TestApprovalOfDeactivatedOwnersTransactionIsRefused(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	customer := e.user(t, "dora", models.RoleCustomer)
	teller := e.user(t, "tom", models.RoleTier1)
	supervisor := e.user(t, "sam", models.RoleTier2)

	acc, held := e.heldDebit(t, customer, "2500.00", "2000.00")
	req, err := e.engine.Submit(ctx, teller, models.RequestCriticalTransaction, models.RequestPayload{TransactionID: held.ID})
	require.NoError(t, err)

	_, err = e.ledger.DeactivateUser(ctx, supervisor, customer.ID)
	require.NoError(t, err)

	_, err = e.engine.Resolve(ctx, req.ID, supervisor, Approve)
	require.ErrorIs(t, err, ledger.ErrInactiveUser)

	stored, err := e.engine.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	after, err := e.store.FindAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "2500.00", after.Balance.StringFixed(2))

	resolved, err := e.engine.Resolve(ctx, req.ID, supervisor, Decline)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, resolved.Status)
}
