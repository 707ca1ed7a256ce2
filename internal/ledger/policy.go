package ledger

import (
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/shopspring/decimal"
)

// Policy flags self-transfers that must be held for a second approver.
// A zero CriticalThreshold disables holding.
type Policy struct {
	CriticalThreshold      decimal.Decimal
	CreditRequiresApproval bool
}

func (p Policy) RequiresApproval(dir models.Direction, amount decimal.Decimal) bool {
	if !p.CriticalThreshold.IsPositive() || amount.LessThan(p.CriticalThreshold) {
		return false
	}
	switch dir {
	case models.Debit:
		return true
	case models.Credit:
		return p.CreditRequiresApproval
	}
	return false
}
