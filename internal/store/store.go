// Package store is the persistence boundary of the back-office: accounts,
// requests, users, ledger transactions and the mirror outbox.
//
// Two backends implement Store: Postgres through gorm, and an in-memory
// backend used by tests and by the memory db driver.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
)

var (
	// ErrNotFound is returned by every lookup whose row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleRequest is returned by ResolveRequest when the request is no
	// longer PENDING.
	ErrStaleRequest = errors.New("request is no longer pending")
	// ErrLockTimeout is returned when a row lock could not be acquired in time.
	ErrLockTimeout = errors.New("row lock wait timed out")
)

type Store interface {
	// Transaction runs fn in a unit of work. Everything fn writes through tx
	// commits together when fn returns nil and is discarded otherwise.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, u *models.User) error
	FindUser(ctx context.Context, id uint) (*models.User, error)
	FindUserByUserName(ctx context.Context, userName string) (*models.User, error)
	SetRole(ctx context.Context, userID uint, role models.Role) error
	ApplyProfileDiff(ctx context.Context, userID uint, diff models.ProfileDiff) error
	// DeactivateUser is a soft delete; the row and its history are kept.
	DeactivateUser(ctx context.Context, userID uint) error

	FindAccount(ctx context.Context, id uint) (*models.Account, error)
	FindAccountsByOwner(ctx context.Context, userID uint) ([]models.Account, error)
	// FindAccountsByOwnerForUpdate locks every account of userID until the
	// enclosing transaction ends.
	FindAccountsByOwnerForUpdate(ctx context.Context, userID uint) ([]models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	DeleteAccount(ctx context.Context, a *models.Account) error

	SaveRequest(ctx context.Context, r *models.Request) error
	FindRequest(ctx context.Context, id uint) (*models.Request, error)
	FindRequestForUpdate(ctx context.Context, id uint) (*models.Request, error)
	// FindPendingRequests returns PENDING requests of the given types,
	// oldest first.
	FindPendingRequests(ctx context.Context, types []models.RequestType) ([]models.Request, error)
	FindRequestsByRequester(ctx context.Context, userID uint) ([]models.Request, error)
	// ResolveRequest writes status, resolver and resolution time only if the
	// stored request is still PENDING, otherwise it returns ErrStaleRequest.
	ResolveRequest(ctx context.Context, r *models.Request) error

	SaveTransaction(ctx context.Context, t *models.Transaction) error
	FindTransaction(ctx context.Context, id uint) (*models.Transaction, error)
	FindTransactionsByAccount(ctx context.Context, accountID uint) ([]models.Transaction, error)

	EnqueueMirrorEvent(ctx context.Context, e *models.MirrorEvent) error
	ListDueMirrorEvents(ctx context.Context, now time.Time, limit int) ([]models.MirrorEvent, error)
	MarkMirrorEventSent(ctx context.Context, id uint) error
	// MarkMirrorEventFailed records a failed delivery. The event is retried at
	// next unless terminal is set.
	MarkMirrorEventFailed(ctx context.Context, id uint, reason string, next time.Time, terminal bool) error
}
