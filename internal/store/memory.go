package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/models"
)

// Memory is an in-process Store. Transactions are serialized and run against
// a private copy of the data that replaces the shared copy on commit, so row
// locks are implied by the serialization.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *memData
	inTx bool
	now  func() time.Time
}

type memData struct {
	seq          map[string]uint
	users        map[uint]models.User
	accounts     map[uint]models.Account
	requests     map[uint]models.Request
	transactions map[uint]models.Transaction
	events       map[uint]models.MirrorEvent
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		data: &memData{
			seq:          map[string]uint{},
			users:        map[uint]models.User{},
			accounts:     map[uint]models.Account{},
			requests:     map[uint]models.Request{},
			transactions: map[uint]models.Transaction{},
			events:       map[uint]models.MirrorEvent{},
		},
		now: time.Now,
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		seq:          make(map[string]uint, len(d.seq)),
		users:        make(map[uint]models.User, len(d.users)),
		accounts:     make(map[uint]models.Account, len(d.accounts)),
		requests:     make(map[uint]models.Request, len(d.requests)),
		transactions: make(map[uint]models.Transaction, len(d.transactions)),
		events:       make(map[uint]models.MirrorEvent, len(d.events)),
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	return c
}

func (d *memData) next(table string) uint {
	d.seq[table]++
	return d.seq[table]
}

func (m *Memory) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.inTx {
		return fn(m)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	working := m.data.clone()
	m.mu.RUnlock()

	tx := &Memory{data: working, inTx: true, now: m.now}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = working
	m.mu.Unlock()
	return nil
}

func (m *Memory) read(fn func(d *memData) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

// write applies fn outside of any Transaction under the same serialization
// as Transaction, so a commit never overwrites it.
func (m *Memory) write(fn func(d *memData) error) error {
	if !m.inTx {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	return m.write(func(d *memData) error {
		now := m.now()
		u.ID = d.next("users")
		u.CreatedAt, u.UpdatedAt = now, now
		d.users[u.ID] = *u
		return nil
	})
}

func (m *Memory) FindUser(_ context.Context, id uint) (*models.User, error) {
	var out models.User
	err := m.read(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return ErrNotFound
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) FindUserByUserName(_ context.Context, userName string) (*models.User, error) {
	var out models.User
	err := m.read(func(d *memData) error {
		for _, u := range d.users {
			if u.UserName == userName {
				out = u
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) SetRole(_ context.Context, userID uint, role models.Role) error {
	return m.write(func(d *memData) error {
		u, ok := d.users[userID]
		if !ok {
			return ErrNotFound
		}
		u.Role = role
		u.UpdatedAt = m.now()
		d.users[userID] = u
		return nil
	})
}

func (m *Memory) ApplyProfileDiff(_ context.Context, userID uint, diff models.ProfileDiff) error {
	return m.write(func(d *memData) error {
		u, ok := d.users[userID]
		if !ok {
			return ErrNotFound
		}
		diff.Apply(&u)
		u.UpdatedAt = m.now()
		d.users[userID] = u
		return nil
	})
}

func (m *Memory) DeactivateUser(_ context.Context, userID uint) error {
	return m.write(func(d *memData) error {
		u, ok := d.users[userID]
		if !ok {
			return ErrNotFound
		}
		u.Active = false
		u.UpdatedAt = m.now()
		d.users[userID] = u
		return nil
	})
}

func (m *Memory) FindAccount(_ context.Context, id uint) (*models.Account, error) {
	var out models.Account
	err := m.read(func(d *memData) error {
		a, ok := d.accounts[id]
		if !ok {
			return ErrNotFound
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) FindAccountsByOwner(_ context.Context, userID uint) ([]models.Account, error) {
	var out []models.Account
	err := m.read(func(d *memData) error {
		for _, a := range d.accounts {
			if a.UserID == userID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m *Memory) FindAccountsByOwnerForUpdate(ctx context.Context, userID uint) ([]models.Account, error) {
	return m.FindAccountsByOwner(ctx, userID)
}

func (m *Memory) SaveAccount(_ context.Context, a *models.Account) error {
	return m.write(func(d *memData) error {
		now := m.now()
		if a.ID == 0 {
			a.ID = d.next("accounts")
			a.CreatedAt = now
		} else if _, ok := d.accounts[a.ID]; !ok {
			return ErrNotFound
		}
		a.UpdatedAt = now
		d.accounts[a.ID] = *a
		return nil
	})
}

func (m *Memory) DeleteAccount(ctx context.Context, a *models.Account) error {
	a.Active = false
	return m.SaveAccount(ctx, a)
}

func (m *Memory) SaveRequest(_ context.Context, r *models.Request) error {
	return m.write(func(d *memData) error {
		now := m.now()
		if r.ID == 0 {
			r.ID = d.next("requests")
			r.CreatedAt = now
		} else if _, ok := d.requests[r.ID]; !ok {
			return ErrNotFound
		}
		r.UpdatedAt = now
		d.requests[r.ID] = *r
		return nil
	})
}

func (m *Memory) FindRequest(_ context.Context, id uint) (*models.Request, error) {
	var out models.Request
	err := m.read(func(d *memData) error {
		r, ok := d.requests[id]
		if !ok {
			return ErrNotFound
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) FindRequestForUpdate(ctx context.Context, id uint) (*models.Request, error) {
	return m.FindRequest(ctx, id)
}

func (m *Memory) FindPendingRequests(_ context.Context, types []models.RequestType) ([]models.Request, error) {
	want := make(map[models.RequestType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []models.Request
	err := m.read(func(d *memData) error {
		for _, r := range d.requests {
			if r.Status == models.StatusPending && want[r.Type] {
				out = append(out, r)
			}
		}
		return nil
	})
	sortRequests(out)
	return out, err
}

func (m *Memory) FindRequestsByRequester(_ context.Context, userID uint) ([]models.Request, error) {
	var out []models.Request
	err := m.read(func(d *memData) error {
		for _, r := range d.requests {
			if r.RequesterID == userID {
				out = append(out, r)
			}
		}
		return nil
	})
	sortRequests(out)
	return out, err
}

func sortRequests(rs []models.Request) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func (m *Memory) ResolveRequest(_ context.Context, r *models.Request) error {
	return m.write(func(d *memData) error {
		stored, ok := d.requests[r.ID]
		if !ok {
			return ErrNotFound
		}
		if stored.Status != models.StatusPending {
			return ErrStaleRequest
		}
		stored.Status = r.Status
		stored.ResolverID = r.ResolverID
		stored.ResolvedAt = r.ResolvedAt
		stored.UpdatedAt = m.now()
		d.requests[r.ID] = stored
		*r = stored
		return nil
	})
}

func (m *Memory) SaveTransaction(_ context.Context, t *models.Transaction) error {
	return m.write(func(d *memData) error {
		now := m.now()
		if t.ID == 0 {
			t.ID = d.next("transactions")
			t.CreatedAt = now
		} else if _, ok := d.transactions[t.ID]; !ok {
			return ErrNotFound
		}
		t.UpdatedAt = now
		d.transactions[t.ID] = *t
		return nil
	})
}

func (m *Memory) FindTransaction(_ context.Context, id uint) (*models.Transaction, error) {
	var out models.Transaction
	err := m.read(func(d *memData) error {
		t, ok := d.transactions[id]
		if !ok {
			return ErrNotFound
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) FindTransactionsByAccount(_ context.Context, accountID uint) ([]models.Transaction, error) {
	var out []models.Transaction
	err := m.read(func(d *memData) error {
		for _, t := range d.transactions {
			if t.AccountID == accountID {
				out = append(out, t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m *Memory) EnqueueMirrorEvent(_ context.Context, e *models.MirrorEvent) error {
	return m.write(func(d *memData) error {
		now := m.now()
		e.ID = d.next("mirror_events")
		e.CreatedAt, e.UpdatedAt = now, now
		if e.Status == "" {
			e.Status = models.MirrorPending
		}
		if e.NextAttemptAt.IsZero() {
			e.NextAttemptAt = now
		}
		d.events[e.ID] = *e
		return nil
	})
}

func (m *Memory) ListDueMirrorEvents(_ context.Context, now time.Time, limit int) ([]models.MirrorEvent, error) {
	var out []models.MirrorEvent
	err := m.read(func(d *memData) error {
		for _, e := range d.events {
			if e.Status == models.MirrorPending && !e.NextAttemptAt.After(now) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (m *Memory) MarkMirrorEventSent(_ context.Context, id uint) error {
	return m.write(func(d *memData) error {
		e, ok := d.events[id]
		if !ok {
			return ErrNotFound
		}
		e.Status = models.MirrorSent
		e.Attempts++
		e.LastError = ""
		e.UpdatedAt = m.now()
		d.events[id] = e
		return nil
	})
}

func (m *Memory) MarkMirrorEventFailed(_ context.Context, id uint, reason string, next time.Time, terminal bool) error {
	return m.write(func(d *memData) error {
		e, ok := d.events[id]
		if !ok {
			return ErrNotFound
		}
		e.Attempts++
		e.LastError = reason
		e.NextAttemptAt = next
		if terminal {
			e.Status = models.MirrorFailed
		}
		e.UpdatedAt = m.now()
		d.events[id] = e
		return nil
	})
}
