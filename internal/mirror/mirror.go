// Package mirror ships completed ledger transactions to an external,
// append-only audit store. The mirror is never authoritative for balances:
// records reach it through the outbox and the Dispatcher, at least once.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/google/uuid"
)

type Record struct {
	EventID       string    `json:"event_id" bson:"_id"`
	TransactionID uint      `json:"transaction_id" bson:"transaction_id"`
	AccountID     uint      `json:"account_id" bson:"account_id"`
	UserID        uint      `json:"user_id" bson:"user_id"`
	Direction     string    `json:"direction" bson:"direction"`
	Amount        string    `json:"amount" bson:"amount"`
	Balance       string    `json:"balance" bson:"balance"`
	Status        string    `json:"status" bson:"status"`
	RecordedAt    time.Time `json:"recorded_at" bson:"recorded_at"`
}

type Mirror interface {
	// Record stores r. Recording the same EventID twice is a no-op.
	Record(ctx context.Context, r Record) error
	// History returns the account's records, oldest first, serialized as JSON.
	History(ctx context.Context, accountID uint) (string, error)
}

// NewEvent builds the outbox row describing a committed transaction.
func NewEvent(t *models.Transaction, balanceAfter string, at time.Time) (*models.MirrorEvent, error) {
	rec := Record{
		EventID:       uuid.NewString(),
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		UserID:        t.UserID,
		Direction:     string(t.Direction),
		Amount:        t.Amount.StringFixed(2),
		Balance:       balanceAfter,
		Status:        string(t.Status),
		RecordedAt:    at.UTC(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode mirror record: %w", err)
	}
	return &models.MirrorEvent{
		EventID:   rec.EventID,
		AccountID: t.AccountID,
		Payload:   payload,
		Status:    models.MirrorPending,
	}, nil
}

// Memory is an in-process Mirror.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Mirror = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

func (m *Memory) Record(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.EventID]; !ok {
		m.records[r.EventID] = r
	}
	return nil
}

func (m *Memory) History(_ context.Context, accountID uint) (string, error) {
	m.mu.RLock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
