package billing

import "fmt"

// =============================================================================
// LEASE LIFECYCLE
// =============================================================================

// leaseTransitions lists the allowed moves out of each status.
// Terminated has none.
var leaseTransitions = map[LeaseStatus][]LeaseStatus{
	LeaseNew:     {LeaseActive},
	LeaseActive:  {LeaseExpired, LeaseTerminated},
	LeaseExpired: {LeaseTerminated},
}

// TransitionLease returns the lease moved to status to, effective on at.
func TransitionLease(l Lease, to LeaseStatus, at Date) (Lease, error) {
	if l.Status == LeaseTerminated {
		return l, &ConflictError{Code: CodeLeaseTerminated, Message: fmt.Sprintf("lease %s is terminated", l.ID)}
	}
	allowed := false
	for _, s := range leaseTransitions[l.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return l, &ConflictError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("lease %s cannot move from %s to %s", l.ID, l.Status, to),
		}
	}
	l.Status = to
	if to == LeaseTerminated {
		day := at
		l.TerminatedAt = &day
	}
	return l, nil
}

// HasStarted reports whether the lease ever reached Active.
func (l Lease) HasStarted() bool {
	return l.Status == LeaseActive || l.Status == LeaseExpired || l.Status == LeaseTerminated
}

// EffectiveEnd is the exclusive end of the lease: the earlier of EndDate
// and TerminatedAt, or nil when open-ended.
func (l Lease) EffectiveEnd() *Date {
	end := l.EndDate
	if l.TerminatedAt != nil && (end == nil || l.TerminatedAt.Before(*end)) {
		end = l.TerminatedAt
	}
	return end
}

// BillableDuring reports whether an invoice may be built for p.
func (l Lease) BillableDuring(p Period) bool {
	return l.HasStarted() && p.Overlaps(l.StartDate, l.EffectiveEnd())
}

// PeriodStarting returns the billing period of the lease's cadence that
// begins on start.
func (l Lease) PeriodStarting(start Date) Period {
	months := l.BillingPeriodMonths
	if months < 1 {
		months = 1
	}
	return Period{Start: start, End: start.AddMonths(months)}
}

// DueDate anchors on the period start or its last day, depending on the
// lease's payment timing, then adds the offset.
func (l Lease) DueDate(p Period) Date {
	anchor := p.Start
	if l.PaymentTiming == PayAtPeriodEnd {
		anchor = p.LastDay()
	}
	return anchor.AddDays(l.DueOffsetDays)
}

func (l Lease) Validate() error {
	switch {
	case l.RoomID == "":
		return &ValidationError{Field: "room_id", Message: "required"}
	case l.RentAmount.IsNegative():
		return &ValidationError{Field: "rent_amount", Message: "must not be negative"}
	case l.BillingPeriodMonths < 1:
		return &ValidationError{Field: "billing_period_months", Message: "must be at least 1"}
	case l.DueOffsetDays < 0:
		return &ValidationError{Field: "due_offset_days", Message: "must not be negative"}
	case l.StartDate.IsZero():
		return &ValidationError{Field: "start_date", Message: "required"}
	case l.EndDate != nil && !l.EndDate.After(l.StartDate):
		return &ValidationError{Field: "end_date", Message: "must be after start_date"}
	}
	return nil
}
