/*
aggregator.go - Collects what a lease consumed during a billing period

PURPOSE:
  Gathers the inputs of an invoice without pricing them: recorded meter
  readings, fixed services the lease is registered for, and unbilled
  per-usage or incident records for the room.

SELECTION RULES:
  - Reading: status Recorded and its period lies inside the billing period
  - Fixed service: registration overlaps the period, service is FixedMonthly
  - Usage: not yet on an invoice and dated inside the period
  Two Recorded readings of one cost type whose periods or meter ranges
  overlap fail the whole collection with DuplicateReadingError.

SEE ALSO:
  - invoice.go: Prices the collection and claims its records
*/
package billing

import (
	"context"
	"sort"
)

// FixedCharge is a registration paired with its definition.
type FixedCharge struct {
	Registration ServiceRegistration
	Service      ServiceDefinition
}

// UsageCharge is a usage record paired with its definition.
type UsageCharge struct {
	Record  ServiceUsageRecord
	Service ServiceDefinition
}

type Collection struct {
	Lease         Lease
	Period        Period
	Readings      []ConsumptionReading
	FixedServices []FixedCharge
	UsageRecords  []UsageCharge
}

type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Collect gathers the billable records of a lease for p.
func (a *Aggregator) Collect(ctx context.Context, leaseID LeaseID, p Period) (Collection, error) {
	lease, err := a.store.GetLease(ctx, leaseID)
	if err != nil {
		return Collection{}, err
	}
	return a.collectFor(ctx, lease, p)
}

func (a *Aggregator) collectFor(ctx context.Context, lease Lease, p Period) (Collection, error) {
	if err := p.Validate(); err != nil {
		return Collection{}, err
	}
	col := Collection{Lease: lease, Period: p}

	readings, err := a.readings(ctx, lease.RoomID, p)
	if err != nil {
		return Collection{}, err
	}
	col.Readings = readings

	services := map[ServiceID]ServiceDefinition{}
	service := func(id ServiceID) (ServiceDefinition, error) {
		if s, ok := services[id]; ok {
			return s, nil
		}
		s, err := a.store.GetService(ctx, id)
		if err != nil {
			return ServiceDefinition{}, err
		}
		services[id] = s
		return s, nil
	}

	regs, err := a.store.ListRegistrations(ctx, lease.ID)
	if err != nil {
		return Collection{}, err
	}
	for _, reg := range regs {
		if !reg.ActiveDuring(p) {
			continue
		}
		def, err := service(reg.ServiceID)
		if err != nil {
			return Collection{}, err
		}
		if def.Kind != ServiceFixedMonthly {
			continue
		}
		col.FixedServices = append(col.FixedServices, FixedCharge{Registration: reg, Service: def})
	}

	usage, err := a.store.ListUnbilledUsage(ctx, lease.RoomID, p)
	if err != nil {
		return Collection{}, err
	}
	for _, u := range usage {
		if u.InvoiceID != "" || !p.Contains(u.Date) {
			continue
		}
		def, err := service(u.ServiceID)
		if err != nil {
			return Collection{}, err
		}
		col.UsageRecords = append(col.UsageRecords, UsageCharge{Record: u, Service: def})
	}
	sort.SliceStable(col.UsageRecords, func(i, j int) bool {
		x, y := col.UsageRecords[i].Record, col.UsageRecords[j].Record
		if !x.Date.Equal(y.Date) {
			return x.Date.Before(y.Date)
		}
		return x.ID < y.ID
	})
	return col, nil
}

func (a *Aggregator) readings(ctx context.Context, room RoomID, p Period) ([]ConsumptionReading, error) {
	all, err := a.store.ListReadings(ctx, room, p)
	if err != nil {
		return nil, err
	}
	var out []ConsumptionReading
	for _, r := range all {
		if r.Status != ReadingRecorded || !p.Covers(r.Period) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CostType != out[j].CostType {
			return out[i].CostType < out[j].CostType
		}
		if !out[i].Period.Start.Equal(out[j].Period.Start) {
			return out[i].Period.Start.Before(out[j].Period.Start)
		}
		return out[i].ID < out[j].ID
	})
	if err := checkOverlaps(room, p, out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkOverlaps rejects two readings of one cost type that cover the same
// days or the same stretch of the meter. readings must be sorted by cost
// type.
func checkOverlaps(room RoomID, p Period, readings []ConsumptionReading) error {
	for start := 0; start < len(readings); {
		end := start
		for end < len(readings) && readings[end].CostType == readings[start].CostType {
			end++
		}
		group := readings[start:end]
		var ids []ReadingID
		for i, r := range group {
			for j, o := range group {
				if i != j && readingsOverlap(r, o) {
					ids = append(ids, r.ID)
					break
				}
			}
		}
		if len(ids) > 0 {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			return &DuplicateReadingError{RoomID: room, CostType: group[0].CostType, Period: p, ReadingIDs: ids}
		}
		start = end
	}
	return nil
}

func readingsOverlap(a, b ConsumptionReading) bool {
	days := a.Period.Start.Before(b.Period.End) && b.Period.Start.Before(a.Period.End)
	meter := a.PreviousIndex.LessThan(b.CurrentIndex) && b.PreviousIndex.LessThan(a.CurrentIndex)
	return days || meter
}
