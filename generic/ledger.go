/*
ledger.go - Append-only extension ledger

PURPOSE:
  Every granted extension is recorded as an immutable row. The daily
  extension budget is never stored as a counter: it is always computed by
  summing the rows granted to a requester within one calendar day of the
  resource's timezone, so it cannot drift from history.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. The row is written in the same transaction as the window change.

EXAMPLE FLOW:
  Daily cap 3h. Records today: 1.5h, 1h  → used 2.5h
  Request +1h   → 3.5h > 3h → LimitExceededError
  Request +0.5h → 3.0h      → granted, third record appended

SEE ALSO:
  - extension.go: ExtensionArbiter
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// EXTENSION LEDGER
// =============================================================================

type ExtensionRecord struct {
	ID            string
	ReservationID ReservationID
	ResourceID    ResourceID
	RequesterID   UserID
	Hours         Amount
	GrantedAt     time.Time
}

type ExtensionLedger interface {
	// AppendExtension records a granted extension. This is the only write.
	AppendExtension(ctx context.Context, rec ExtensionRecord) error

	// ListExtensions returns the requester's records granted within window.
	ListExtensions(ctx context.Context, requester UserID, window TimeWindow) ([]ExtensionRecord, error)
}

// ExtensionHoursUsed sums the requester's grants within the calendar day
// containing at, in loc.
func ExtensionHoursUsed(ctx context.Context, l ExtensionLedger, requester UserID, at time.Time, loc *time.Location) (Amount, error) {
	recs, err := l.ListExtensions(ctx, requester, DayWindow(at, loc))
	if err != nil {
		return Amount{}, err
	}
	return SumExtensions(recs), nil
}

func SumExtensions(recs []ExtensionRecord) Amount {
	total := Hours(0)
	for _, r := range recs {
		total = total.Add(r.Hours)
	}
	return total
}
