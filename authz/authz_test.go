package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/billing/store"
)

// seedOwnership creates two landlords' worth of records; landlord-1 owns
// everything with a "1" suffix.
func seedOwnership(t *testing.T) (*store.Memory, billing.PricePoint) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	march := billing.Period{Start: billing.MustDate("2025-03-01"), End: billing.MustDate("2025-04-01")}

	require.NoError(t, m.SaveProperty(ctx, billing.Property{ID: "p1", LandlordID: "landlord-1"}))
	require.NoError(t, m.SaveProperty(ctx, billing.Property{ID: "p2", LandlordID: "landlord-2"}))
	require.NoError(t, m.SaveRoom(ctx, billing.Room{ID: "r1", PropertyID: "p1"}))
	require.NoError(t, m.SaveLease(ctx, billing.Lease{ID: "l1", RoomID: "r1", PropertyID: "p1"}))
	require.NoError(t, m.SaveService(ctx, billing.ServiceDefinition{ID: "s1", LandlordID: "landlord-1"}))
	require.NoError(t, m.InsertReading(ctx, billing.ConsumptionReading{ID: "rd1", RoomID: "r1", Period: march}))
	require.NoError(t, m.InsertUsage(ctx, billing.ServiceUsageRecord{ID: "u1", ServiceID: "s1", RoomID: "r1"}))
	require.NoError(t, m.InsertInvoice(ctx, billing.Invoice{ID: "inv1", LeaseID: "l1", Period: march}))
	p, err := m.InsertPricePoint(ctx, billing.PricePoint{
		Scope:         billing.UtilityScope("p2", billing.CostWater),
		UnitPrice:     decimal.NewFromInt(15500),
		EffectiveDate: billing.MustDate("2025-01-01"),
	})
	require.NoError(t, err)
	return m, p
}

func TestStoreAuthorizer_OwnershipChain(t *testing.T) {
	ctx := context.Background()
	m, waterP2 := seedOwnership(t)
	a := NewStoreAuthorizer(m)
	owner := Caller{LandlordID: "landlord-1"}
	other := Caller{LandlordID: "landlord-2"}

	refs := []ResourceRef{
		Property("p1"), Room("r1"), Lease("l1"), Service("s1"),
		Reading("rd1"), Usage("u1"), Invoice("inv1"),
	}
	for _, ref := range refs {
		t.Run(string(ref.Kind), func(t *testing.T) {
			assert.NoError(t, a.Authorize(ctx, owner, ref))

			err := a.Authorize(ctx, other, ref)
			var oe *OwnershipError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, ref, oe.Resource)
			assert.ErrorIs(t, err, ErrForbidden)
			assert.Equal(t, CodeForbidden, billing.Code(err))
		})
	}

	t.Run("price point follows its scope", func(t *testing.T) {
		assert.NoError(t, a.Authorize(ctx, other, PricePoint(waterP2.ID)))
		assert.ErrorIs(t, a.Authorize(ctx, owner, PricePoint(waterP2.ID)), ErrForbidden)
	})
}

func TestStoreAuthorizer_Errors(t *testing.T) {
	ctx := context.Background()
	m, _ := seedOwnership(t)
	a := NewStoreAuthorizer(m)

	err := a.Authorize(ctx, Caller{LandlordID: "landlord-1"}, Lease("missing"))
	assert.True(t, billing.IsNotFound(err))

	err = a.Authorize(ctx, Caller{}, Property("p1"))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	owner, err := a.ScopeOwner(ctx, billing.ServiceScope("s1"))
	require.NoError(t, err)
	assert.Equal(t, billing.LandlordID("landlord-1"), owner)
}

func TestCallerContext(t *testing.T) {
	_, ok := CallerFrom(context.Background())
	assert.False(t, ok)

	ctx := WithCaller(context.Background(), Caller{LandlordID: "landlord-1"})
	c, ok := CallerFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, billing.LandlordID("landlord-1"), c.LandlordID)
}

func TestTokens(t *testing.T) {
	now := time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)
	tokens := NewTokens("secret", "lease-billing", time.Hour)
	tokens.Now = func() time.Time { return now }

	signed, err := tokens.Issue("landlord-1")
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		c, err := tokens.Parse(signed)
		require.NoError(t, err)
		assert.Equal(t, billing.LandlordID("landlord-1"), c.LandlordID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokens("other", "lease-billing", time.Hour)
		other.Now = tokens.Now
		_, err := other.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokens("secret", "someone-else", time.Hour)
		other.Now = tokens.Now
		_, err := other.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokens("secret", "lease-billing", time.Hour)
		later.Now = func() time.Time { return now.Add(2 * time.Hour) }
		_, err := later.Parse(signed)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}
