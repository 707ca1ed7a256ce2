package models

import "fmt"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleTier1    Role = "tier1"
	RoleTier2    Role = "tier2"
	RoleAdmin    Role = "admin"
)

var Roles = []Role{RoleCustomer, RoleTier1, RoleTier2, RoleAdmin}

func ParseRole(raw string) (Role, error) {
	for _, r := range Roles {
		if string(r) == raw {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

func (r Role) IsEmployee() bool {
	return r == RoleTier1 || r == RoleTier2 || r == RoleAdmin
}

type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCurrent  AccountType = "current"
)

func ParseAccountType(raw string) (AccountType, error) {
	switch t := AccountType(raw); t {
	case AccountChecking, AccountSavings, AccountCurrent:
		return t, nil
	}
	return "", fmt.Errorf("unknown account type %q", raw)
}

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(raw); d {
	case Credit, Debit:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", raw)
}

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionHeld      TransactionStatus = "HELD"
	TransactionDeclined  TransactionStatus = "DECLINED"
)

type RequestType string

const (
	RequestRolePromotion       RequestType = "role_promotion"
	RequestRoleDemotion        RequestType = "role_demotion"
	RequestProfileUpdate       RequestType = "profile_update"
	RequestCriticalTransaction RequestType = "critical_transaction_approval"
)

var RequestTypes = []RequestType{
	RequestRolePromotion,
	RequestRoleDemotion,
	RequestProfileUpdate,
	RequestCriticalTransaction,
}

func ParseRequestType(raw string) (RequestType, error) {
	for _, t := range RequestTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown request type %q", raw)
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusDeclined RequestStatus = "DECLINED"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

type MirrorEventStatus string

const (
	MirrorPending MirrorEventStatus = "PENDING"
	MirrorSent    MirrorEventStatus = "SENT"
	MirrorFailed  MirrorEventStatus = "FAILED"
)
