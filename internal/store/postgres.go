package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres error code lock_not_available, raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: false,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Log.Info("connected to the database")
	return db, nil
}

func DBMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Account{},
		&models.Transaction{},
		&models.Request{},
		&models.MirrorEvent{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Log.Info("migrations loaded")
	return nil
}

type Postgres struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps db. lockTimeout bounds row lock waits taken by the
// ForUpdate lookups; zero leaves the server default.
func NewPostgres(db *gorm.DB, lockTimeout time.Duration) *Postgres {
	return &Postgres{db: db, lockTimeout: lockTimeout}
}

func (p *Postgres) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Postgres{db: tx, lockTimeout: p.lockTimeout})
	})
}

func (p *Postgres) conn(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx)
}

// forUpdate sets the per-transaction lock wait bound and returns a query
// builder taking row locks.
func (p *Postgres) forUpdate(ctx context.Context) (*gorm.DB, error) {
	db := p.conn(ctx)
	if p.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())
		if err := db.Exec(stmt).Error; err != nil {
			return nil, translate(err)
		}
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"}), nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	return translate(p.conn(ctx).Create(u).Error)
}

func (p *Postgres) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := p.conn(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (p *Postgres) FindUserByUserName(ctx context.Context, userName string) (*models.User, error) {
	var u models.User
	if err := p.conn(ctx).Where("user_name = ?", userName).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (p *Postgres) SetRole(ctx context.Context, userID uint, role models.Role) error {
	res := p.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Update("role", role)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyProfileDiff writes only the columns set in diff, so a concurrent role
// or status change on the same user is never overwritten.
func (p *Postgres) ApplyProfileDiff(ctx context.Context, userID uint, diff models.ProfileDiff) error {
	cols := diff.Columns()
	if len(cols) == 0 {
		_, err := p.FindUser(ctx, userID)
		return err
	}
	res := p.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(cols)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeactivateUser(ctx context.Context, userID uint) error {
	res := p.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Update("active", false)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FindAccount(ctx context.Context, id uint) (*models.Account, error) {
	var a models.Account
	if err := p.conn(ctx).First(&a, id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (p *Postgres) FindAccountsByOwner(ctx context.Context, userID uint) ([]models.Account, error) {
	var accounts []models.Account
	if err := p.conn(ctx).Where("user_id = ?", userID).Order("id").Find(&accounts).Error; err != nil {
		return nil, translate(err)
	}
	return accounts, nil
}

func (p *Postgres) FindAccountsByOwnerForUpdate(ctx context.Context, userID uint) ([]models.Account, error) {
	db, err := p.forUpdate(ctx)
	if err != nil {
		return nil, err
	}
	var accounts []models.Account
	if err := db.Where("user_id = ?", userID).Order("id").Find(&accounts).Error; err != nil {
		return nil, translate(err)
	}
	return accounts, nil
}

func (p *Postgres) SaveAccount(ctx context.Context, a *models.Account) error {
	return translate(p.conn(ctx).Save(a).Error)
}

// DeleteAccount is a soft close; account rows are kept for history.
func (p *Postgres) DeleteAccount(ctx context.Context, a *models.Account) error {
	a.Active = false
	res := p.conn(ctx).Model(&models.Account{}).Where("id = ?", a.ID).Update("active", false)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveRequest(ctx context.Context, r *models.Request) error {
	return translate(p.conn(ctx).Save(r).Error)
}

func (p *Postgres) FindRequest(ctx context.Context, id uint) (*models.Request, error) {
	var r models.Request
	if err := p.conn(ctx).First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (p *Postgres) FindRequestForUpdate(ctx context.Context, id uint) (*models.Request, error) {
	db, err := p.forUpdate(ctx)
	if err != nil {
		return nil, err
	}
	var r models.Request
	if err := db.First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (p *Postgres) FindPendingRequests(ctx context.Context, types []models.RequestType) ([]models.Request, error) {
	var requests []models.Request
	if len(types) == 0 {
		return requests, nil
	}
	err := p.conn(ctx).
		Where("status = ? AND type IN ?", models.StatusPending, types).
		Order("created_at ASC, id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, translate(err)
	}
	return requests, nil
}

func (p *Postgres) FindRequestsByRequester(ctx context.Context, userID uint) ([]models.Request, error) {
	var requests []models.Request
	err := p.conn(ctx).
		Where("requester_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, translate(err)
	}
	return requests, nil
}

func (p *Postgres) ResolveRequest(ctx context.Context, r *models.Request) error {
	res := p.conn(ctx).Model(&models.Request{}).
		Where("id = ? AND status = ?", r.ID, models.StatusPending).
		Updates(map[string]any{
			"status":      r.Status,
			"resolver_id": r.ResolverID,
			"resolved_at": r.ResolvedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRequest
	}
	return nil
}

func (p *Postgres) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	return translate(p.conn(ctx).Save(t).Error)
}

func (p *Postgres) FindTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := p.conn(ctx).First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (p *Postgres) FindTransactionsByAccount(ctx context.Context, accountID uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	if err := p.conn(ctx).Where("account_id = ?", accountID).Order("id").Find(&txs).Error; err != nil {
		return nil, translate(err)
	}
	return txs, nil
}

func (p *Postgres) EnqueueMirrorEvent(ctx context.Context, e *models.MirrorEvent) error {
	if e.Status == "" {
		e.Status = models.MirrorPending
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = time.Now()
	}
	return translate(p.conn(ctx).Create(e).Error)
}

func (p *Postgres) ListDueMirrorEvents(ctx context.Context, now time.Time, limit int) ([]models.MirrorEvent, error) {
	var events []models.MirrorEvent
	q := p.conn(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.MirrorPending, now).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	if err != nil {
		return nil, translate(err)
	}
	return events, nil
}

func (p *Postgres) MarkMirrorEventSent(ctx context.Context, id uint) error {
	err := p.conn(ctx).Model(&models.MirrorEvent{}).Where("id = ?", id).Updates(map[string]any{
		"status":     models.MirrorSent,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": "",
	}).Error
	return translate(err)
}

func (p *Postgres) MarkMirrorEventFailed(ctx context.Context, id uint, reason string, next time.Time, terminal bool) error {
	updates := map[string]any{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      reason,
		"next_attempt_at": next,
	}
	if terminal {
		updates["status"] = models.MirrorFailed
	}
	if err := p.conn(ctx).Model(&models.MirrorEvent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		logger.Log.Error("failed to record mirror delivery failure", zap.Uint("event_id", id), zap.Error(err))
		return translate(err)
	}
	return nil
}
