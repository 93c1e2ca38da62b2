/*
guard.go - Keeps billed history immutable

PURPOSE:
  Answers whether a mutation would silently change what an existing
  invoice says. It is always evaluated with the transactional Store of
  the mutation it protects, so the check and the write see the same
  data.

RULES:
  - PricePoint:        deletable only while no line item was billed at it
  - ServiceDefinition: kind/unit editable only with zero registrations and
                       zero usage records; deletable only with zero
                       registrations, usage records and line items
  - Reading:           not editable or deletable once Billed
  - Usage record:      not editable or deletable once on an invoice
  - New price point:   rejected when its effective date is on or before
                       the as-of date of an invoiced line in the same scope

SEE ALSO:
  - mutations.go: Every mutation calls the guard first
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

type EntityKind string

const (
	EntityPricePoint  EntityKind = "price_point"
	EntityService     EntityKind = "service"
	EntityReading     EntityKind = "reading"
	EntityUsageRecord EntityKind = "usage_record"
)

type EntityRef struct {
	Kind EntityKind
	ID   string
}

func PricePointRef(id PricePointID) EntityRef {
	return EntityRef{Kind: EntityPricePoint, ID: strconv.FormatInt(int64(id), 10)}
}
func ServiceRef(id ServiceID) EntityRef   { return EntityRef{Kind: EntityService, ID: string(id)} }
func ReadingRef(id ReadingID) EntityRef   { return EntityRef{Kind: EntityReading, ID: string(id)} }
func UsageRef(id UsageRecordID) EntityRef { return EntityRef{Kind: EntityUsageRecord, ID: string(id)} }

// Patch is a proposed edit. Critical reports whether it touches fields
// that freeze once the entity is referenced.
type Patch interface {
	Critical() bool
}

// ServicePatch edits a service definition; nil fields are left as they are.
type ServicePatch struct {
	Name *string
	Kind *ServiceKind
	Unit *string
}

func (p ServicePatch) Critical() bool { return p.Kind != nil || p.Unit != nil }

// Against drops fields that would not change s.
func (p ServicePatch) Against(s ServiceDefinition) ServicePatch {
	if p.Name != nil && *p.Name == s.Name {
		p.Name = nil
	}
	if p.Kind != nil && *p.Kind == s.Kind {
		p.Kind = nil
	}
	if p.Unit != nil && *p.Unit == s.Unit {
		p.Unit = nil
	}
	return p
}

// StructuralPatch marks an edit where every field is critical, such as a
// change to a reading's indexes.
type StructuralPatch struct{}

func (StructuralPatch) Critical() bool { return true }

type Guard struct {
	store Store
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CanDelete reports whether ref may be deleted.
func (g *Guard) CanDelete(ctx context.Context, ref EntityRef) (bool, error) {
	return allowed(g.CheckDelete(ctx, ref))
}

// CanEditCriticalFields reports whether patch may be applied to ref.
func (g *Guard) CanEditCriticalFields(ctx context.Context, ref EntityRef, patch Patch) (bool, error) {
	return allowed(g.CheckEdit(ctx, ref, patch))
}

func allowed(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var inUse *ReferenceInUseError
	if errors.As(err, &inUse) {
		return false, nil
	}
	return false, err
}

// CheckDelete returns a ReferenceInUseError when ref must not be deleted.
func (g *Guard) CheckDelete(ctx context.Context, ref EntityRef) error {
	switch ref.Kind {
	case EntityPricePoint:
		id, err := strconv.ParseInt(ref.ID, 10, 64)
		if err != nil {
			return &ValidationError{Field: "id", Message: "invalid price point id " + ref.ID}
		}
		if _, err := g.store.GetPricePoint(ctx, PricePointID(id)); err != nil {
			return err
		}
		n, err := g.store.CountPriceReferences(ctx, PricePointID(id))
		if err != nil {
			return err
		}
		if n > 0 {
			return &ReferenceInUseError{Entity: ref, References: n,
				Reason: fmt.Sprintf("billed on %d invoice lines", n)}
		}
		return nil

	case EntityService:
		if _, err := g.store.GetService(ctx, ServiceID(ref.ID)); err != nil {
			return err
		}
		refs, err := g.store.CountServiceReferences(ctx, ServiceID(ref.ID))
		if err != nil {
			return err
		}
		if refs.Total() > 0 {
			return &ReferenceInUseError{Entity: ref, References: refs.Total(),
				Reason: fmt.Sprintf("has %d registrations, %d usage records, %d invoice lines",
					refs.Registrations, refs.UsageRecords, refs.LineItems)}
		}
		return nil

	case EntityReading:
		return g.checkReading(ctx, ref)

	case EntityUsageRecord:
		return g.checkUsage(ctx, ref)
	}
	return &ValidationError{Field: "kind", Message: "unknown entity kind " + string(ref.Kind)}
}

// CheckEdit returns a ReferenceInUseError when patch must not be applied.
func (g *Guard) CheckEdit(ctx context.Context, ref EntityRef, patch Patch) error {
	if patch == nil || !patch.Critical() {
		return nil
	}
	switch ref.Kind {
	case EntityPricePoint:
		return g.CheckDelete(ctx, ref)

	case EntityService:
		if _, err := g.store.GetService(ctx, ServiceID(ref.ID)); err != nil {
			return err
		}
		refs, err := g.store.CountServiceReferences(ctx, ServiceID(ref.ID))
		if err != nil {
			return err
		}
		if n := refs.Registrations + refs.UsageRecords; n > 0 {
			return &ReferenceInUseError{Entity: ref, References: n,
				Reason: fmt.Sprintf("kind and unit are frozen by %d registrations and %d usage records",
					refs.Registrations, refs.UsageRecords)}
		}
		return nil

	case EntityReading:
		return g.checkReading(ctx, ref)

	case EntityUsageRecord:
		return g.checkUsage(ctx, ref)
	}
	return &ValidationError{Field: "kind", Message: "unknown entity kind " + string(ref.Kind)}
}

func (g *Guard) checkReading(ctx context.Context, ref EntityRef) error {
	r, err := g.store.GetReading(ctx, ReadingID(ref.ID))
	if err != nil {
		return err
	}
	if r.Status == ReadingBilled {
		return &ReferenceInUseError{Entity: ref, References: 1,
			Reason: fmt.Sprintf("billed on invoice %s", r.InvoiceID)}
	}
	return nil
}

func (g *Guard) checkUsage(ctx context.Context, ref EntityRef) error {
	u, err := g.store.GetUsage(ctx, UsageRecordID(ref.ID))
	if err != nil {
		return err
	}
	if u.InvoiceID != "" {
		return &ReferenceInUseError{Entity: ref, References: 1,
			Reason: fmt.Sprintf("billed on invoice %s", u.InvoiceID)}
	}
	return nil
}

// CheckAddPricePoint rejects a price point that would change the price an
// existing invoice line resolved.
func (g *Guard) CheckAddPricePoint(ctx context.Context, scope PriceScope, effective Date) error {
	latest, err := g.store.LatestInvoicedAsOf(ctx, scope)
	if err != nil {
		return err
	}
	if latest != nil && !effective.After(*latest) {
		return &ConflictError{
			Code: CodeRetroactivePrice,
			Message: fmt.Sprintf("%s has invoiced lines priced as of %s; new prices must take effect after that",
				scope.Key(), latest),
		}
	}
	return nil
}
