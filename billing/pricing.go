/*
pricing.go - Effective-dated price resolution

PURPOSE:
  Answers "what was the unit price of X on date D?". Every charge on an
  invoice goes through Resolve, and every price shown to a landlord does
  too, so the two can never disagree.

RESOLUTION RULE:
  Among the points of a scope with effectiveDate <= asOf, pick the one
  with the greatest effectiveDate. Two points on the same date are
  broken by id, larger wins, which is the most recently created one.
  A date before the first point is a MissingPriceError, never zero.

  prices: 3000 from 2025-01-01, 3500 from 2025-03-01
  resolve(2025-02-28) = 3000
  resolve(2025-03-01) = 3500
  resolve(2024-12-31) = MissingPriceError

SEE ALSO:
  - store.go: LatestPricePoint does the same selection in storage
  - invoice.go: Calls Resolve once per priced line
*/
package billing

import "context"

// PriceReader is the slice of the store the resolver needs.
type PriceReader interface {
	LatestPricePoint(ctx context.Context, scope PriceScope, asOf Date) (PricePoint, bool, error)
}

type Resolver struct {
	prices PriceReader
}

func NewResolver(prices PriceReader) *Resolver {
	return &Resolver{prices: prices}
}

// Resolve returns the price point effective for scope on asOf.
func (r *Resolver) Resolve(ctx context.Context, scope PriceScope, asOf Date) (PricePoint, error) {
	if err := scope.Validate(); err != nil {
		return PricePoint{}, err
	}
	if asOf.IsZero() {
		return PricePoint{}, &ValidationError{Field: "as_of", Message: "required"}
	}
	p, ok, err := r.prices.LatestPricePoint(ctx, scope, asOf)
	if err != nil {
		return PricePoint{}, err
	}
	if !ok {
		return PricePoint{}, &MissingPriceError{Scope: scope, AsOf: asOf}
	}
	return p, nil
}

// SelectPrice applies the resolution rule to an unordered set of points
// from one scope. Stores without an ordered index use it directly.
func SelectPrice(points []PricePoint, asOf Date) (PricePoint, bool) {
	var best PricePoint
	found := false
	for _, p := range points {
		if p.EffectiveDate.After(asOf) {
			continue
		}
		if !found || Supersedes(p, best) {
			best, found = p, true
		}
	}
	return best, found
}

// Supersedes reports whether a takes precedence over b.
func Supersedes(a, b PricePoint) bool {
	if a.EffectiveDate.Equal(b.EffectiveDate) {
		return a.ID > b.ID
	}
	return a.EffectiveDate.After(b.EffectiveDate)
}
