package allocation

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// StatusOf derives the settlement status of t as of today. Paid wins over
// Overdue, which wins over Partly Paid.
func StatusOf(t Target, today time.Time) Status {
	switch {
	case money.Settled(t.Outstanding):
		return StatusPaid
	case DaysOverdue(t, today) > 0:
		return StatusOverdue
	case t.Outstanding.LessThan(t.GrandTotal):
		return StatusPartlyPaid
	default:
		return StatusUnpaid
	}
}

// DaysOverdue counts whole days between the due date and today. Zero or
// negative means not yet due.
func DaysOverdue(t Target, today time.Time) int {
	if t.DueDate.IsZero() {
		return 0
	}
	return int(dateOnly(today).Sub(dateOnly(t.DueDate)).Hours() / 24)
}

// AgingOf places t in an aging bucket as of today. Settled targets are never aged.
func AgingOf(t Target, today time.Time) AgingBucket {
	if money.Settled(t.Outstanding) {
		return AgingNotDue
	}
	days := DaysOverdue(t, today)
	switch {
	case days <= 0:
		return AgingNotDue
	case days <= 30:
		return Aging1To30
	case days <= 60:
		return Aging31To60
	case days <= 90:
		return Aging61To90
	default:
		return AgingOver90
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
