package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	UserName    string `gorm:"uniqueIndex;size:50;not null"`
	FirstName   string `gorm:"size:50;not null"`
	LastName    string `gorm:"size:50;not null"`
	Email       string `gorm:"uniqueIndex;size:254;not null"`
	PhoneNumber string `gorm:"size:20"`
	Password    string `gorm:"size:255" json:"-"`
	Role        Role   `gorm:"size:20;index;not null"`
	Active      bool   `gorm:"not null;default:true"`
}

type Account struct {
	gorm.Model
	UserID  uint            `gorm:"index;not null"`
	Type    AccountType     `gorm:"size:20;not null"`
	Balance decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Active  bool            `gorm:"not null;default:true"`
}

type Transaction struct {
	gorm.Model
	UserID    uint              `gorm:"index;not null"`
	AccountID uint              `gorm:"index;not null"`
	Direction Direction         `gorm:"size:10;not null"`
	Amount    decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	Status    TransactionStatus `gorm:"size:20;index;not null"`
}

// Request is an authorization unit. Rows are never deleted; they are the
// audit trail of every role change and critical transaction.
type Request struct {
	gorm.Model
	Type        RequestType    `gorm:"size:40;index;not null"`
	RequesterID uint           `gorm:"index;not null"`
	Payload     RequestPayload `gorm:"serializer:json"`
	Status      RequestStatus  `gorm:"size:20;index;not null"`
	ResolverID  *uint
	ResolvedAt  *time.Time
}

// RequestPayload carries the type-specific target of a Request. Only the
// field matching the Request type is set.
type RequestPayload struct {
	TargetRole    Role         `json:"target_role,omitempty"`
	Profile       *ProfileDiff `json:"profile,omitempty"`
	TransactionID uint         `json:"transaction_id,omitempty"`
}

// ProfileDiff lists the profile fields to overwrite. Nil fields are left as is.
type ProfileDiff struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

func (d ProfileDiff) Empty() bool {
	return d.FirstName == nil && d.LastName == nil && d.Email == nil && d.PhoneNumber == nil
}

// Columns maps the set fields to their users table columns.
func (d ProfileDiff) Columns() map[string]any {
	cols := map[string]any{}
	if d.FirstName != nil {
		cols["first_name"] = *d.FirstName
	}
	if d.LastName != nil {
		cols["last_name"] = *d.LastName
	}
	if d.Email != nil {
		cols["email"] = *d.Email
	}
	if d.PhoneNumber != nil {
		cols["phone_number"] = *d.PhoneNumber
	}
	return cols
}

func (d ProfileDiff) Apply(u *User) {
	if d.FirstName != nil {
		u.FirstName = *d.FirstName
	}
	if d.LastName != nil {
		u.LastName = *d.LastName
	}
	if d.Email != nil {
		u.Email = *d.Email
	}
	if d.PhoneNumber != nil {
		u.PhoneNumber = *d.PhoneNumber
	}
}

// MirrorEvent is an outbox row for the external ledger mirror. It is written
// in the same database transaction as the balance change it describes.
type MirrorEvent struct {
	gorm.Model
	EventID       string            `gorm:"uniqueIndex;size:36;not null"`
	AccountID     uint              `gorm:"index;not null"`
	Payload       []byte            `gorm:"not null"`
	Status        MirrorEventStatus `gorm:"size:20;index;not null"`
	Attempts      int               `gorm:"not null;default:0"`
	NextAttemptAt time.Time         `gorm:"index"`
	LastError     string            `gorm:"size:500"`
}
