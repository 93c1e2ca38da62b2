package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func TestTransitionLease(t *testing.T) {
	tests := []struct {
		from     billing.LeaseStatus
		to       billing.LeaseStatus
		wantCode string
	}{
		{billing.LeaseNew, billing.LeaseActive, ""},
		{billing.LeaseActive, billing.LeaseExpired, ""},
		{billing.LeaseActive, billing.LeaseTerminated, ""},
		{billing.LeaseExpired, billing.LeaseTerminated, ""},
		{billing.LeaseNew, billing.LeaseExpired, billing.CodeInvalidTransition},
		{billing.LeaseExpired, billing.LeaseActive, billing.CodeInvalidTransition},
		{billing.LeaseTerminated, billing.LeaseActive, billing.CodeLeaseTerminated},
		{billing.LeaseTerminated, billing.LeaseTerminated, billing.CodeLeaseTerminated},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			l := billing.Lease{ID: "l1", Status: tc.from}
			got, err := billing.TransitionLease(l, tc.to, day("2025-06-15"))
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, billing.Code(err))
				assert.Equal(t, tc.from, got.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, got.Status)
		})
	}
}

func TestTransitionLease_TerminationDate(t *testing.T) {
	l := billing.Lease{ID: "l1", Status: billing.LeaseActive}

	got, err := billing.TransitionLease(l, billing.LeaseTerminated, day("2025-06-15"))

	require.NoError(t, err)
	require.NotNil(t, got.TerminatedAt)
	assert.Equal(t, day("2025-06-15"), *got.TerminatedAt)
}

func TestLease_BillableDuring(t *testing.T) {
	end := day("2025-04-01")
	terminated := day("2025-03-10")
	base := billing.Lease{StartDate: day("2025-02-15"), Status: billing.LeaseActive}

	tests := []struct {
		name  string
		lease func() billing.Lease
		p     billing.Period
		want  bool
	}{
		{"new lease never bills", func() billing.Lease { l := base; l.Status = billing.LeaseNew; return l }, march(), false},
		{"starts mid-period", func() billing.Lease { return base }, period("2025-02-01", "2025-03-01"), true},
		{"starts after period", func() billing.Lease { return base }, period("2025-01-01", "2025-02-01"), false},
		{"ended on period start", func() billing.Lease { l := base; l.EndDate = &end; return l }, period("2025-04-01", "2025-05-01"), false},
		{"expired lease bills its last period", func() billing.Lease {
			l := base
			l.EndDate, l.Status = &end, billing.LeaseExpired
			return l
		}, march(), true},
		{"terminated mid-period", func() billing.Lease {
			l := base
			l.TerminatedAt, l.Status = &terminated, billing.LeaseTerminated
			return l
		}, march(), true},
		{"terminated before period", func() billing.Lease {
			l := base
			l.TerminatedAt, l.Status = &terminated, billing.LeaseTerminated
			return l
		}, period("2025-04-01", "2025-05-01"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.lease().BillableDuring(tc.p))
		})
	}
}

func TestLease_Cadence(t *testing.T) {
	quarterly := billing.Lease{BillingPeriodMonths: 3, DueOffsetDays: 10, PaymentTiming: billing.PayAtPeriodStart}

	p := quarterly.PeriodStarting(day("2025-01-01"))
	assert.Equal(t, period("2025-01-01", "2025-04-01"), p)
	assert.Equal(t, day("2025-01-11"), quarterly.DueDate(p))

	quarterly.PaymentTiming = billing.PayAtPeriodEnd
	assert.Equal(t, day("2025-04-10"), quarterly.DueDate(p))
}

func TestLease_Validate(t *testing.T) {
	valid := billing.Lease{RoomID: "r1", RentAmount: dec("100"), BillingPeriodMonths: 1, StartDate: day("2025-01-01")}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.RentAmount = dec("-1")
	assert.Error(t, bad.Validate())

	bad = valid
	end := day("2024-12-31")
	bad.EndDate = &end
	assert.Error(t, bad.Validate())
}
