/*
Package authz answers "may this landlord touch this resource?"

PURPOSE:
  Identity is a collaborator of the billing engine, never part of it. The
  HTTP layer turns a bearer token into a Caller, then asks an Authorizer
  before handing the request to the engine. The Guard and the Builder
  never see who is calling.

OWNERSHIP CHAIN:
  property      → landlord
  room          → property
  lease         → property
  service       → landlord
  price point   → property (utility) or service
  reading       → room
  usage record  → room
  invoice       → lease

SEE ALSO:
  - tokens.go: HS256 bearer tokens
  - api/server.go: authentication middleware
*/
package authz

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/warp/lease-billing/billing"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

const CodeForbidden = "FORBIDDEN"

// Caller is the authenticated landlord behind a request.
type Caller struct {
	LandlordID billing.LandlordID
}

type ResourceKind string

const (
	ResourceProperty    ResourceKind = "property"
	ResourceRoom        ResourceKind = "room"
	ResourceLease       ResourceKind = "lease"
	ResourceService     ResourceKind = "service"
	ResourcePricePoint  ResourceKind = "price_point"
	ResourceReading     ResourceKind = "reading"
	ResourceUsageRecord ResourceKind = "usage_record"
	ResourceInvoice     ResourceKind = "invoice"
)

type ResourceRef struct {
	Kind ResourceKind
	ID   string
}

func Property(id billing.PropertyID) ResourceRef { return ResourceRef{ResourceProperty, string(id)} }
func Room(id billing.RoomID) ResourceRef         { return ResourceRef{ResourceRoom, string(id)} }
func Lease(id billing.LeaseID) ResourceRef       { return ResourceRef{ResourceLease, string(id)} }
func Service(id billing.ServiceID) ResourceRef   { return ResourceRef{ResourceService, string(id)} }
func Reading(id billing.ReadingID) ResourceRef   { return ResourceRef{ResourceReading, string(id)} }
func Invoice(id billing.InvoiceID) ResourceRef   { return ResourceRef{ResourceInvoice, string(id)} }
func Usage(id billing.UsageRecordID) ResourceRef { return ResourceRef{ResourceUsageRecord, string(id)} }
func PricePoint(id billing.PricePointID) ResourceRef {
	return ResourceRef{ResourcePricePoint, strconv.FormatInt(int64(id), 10)}
}

// OwnershipError is returned when the caller does not own the resource.
type OwnershipError struct {
	Caller   billing.LandlordID
	Resource ResourceRef
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("landlord %s does not own %s %s", e.Caller, e.Resource.Kind, e.Resource.ID)
}
func (e *OwnershipError) Unwrap() error     { return ErrForbidden }
func (e *OwnershipError) ErrorCode() string { return CodeForbidden }

type Authorizer interface {
	Authorize(ctx context.Context, caller Caller, ref ResourceRef) error
}

// StoreAuthorizer resolves ownership by walking the store.
type StoreAuthorizer struct {
	store billing.Store
}

func NewStoreAuthorizer(store billing.Store) *StoreAuthorizer {
	return &StoreAuthorizer{store: store}
}

var _ Authorizer = (*StoreAuthorizer)(nil)

func (a *StoreAuthorizer) Authorize(ctx context.Context, caller Caller, ref ResourceRef) error {
	if caller.LandlordID == "" {
		return ErrUnauthenticated
	}
	owner, err := a.Owner(ctx, ref)
	if err != nil {
		return err
	}
	if owner != caller.LandlordID {
		return &OwnershipError{Caller: caller.LandlordID, Resource: ref}
	}
	return nil
}

// Owner returns the landlord owning the resource. Missing resources
// surface as billing.NotFoundError.
func (a *StoreAuthorizer) Owner(ctx context.Context, ref ResourceRef) (billing.LandlordID, error) {
	switch ref.Kind {
	case ResourceProperty:
		p, err := a.store.GetProperty(ctx, billing.PropertyID(ref.ID))
		if err != nil {
			return "", err
		}
		return p.LandlordID, nil

	case ResourceRoom:
		r, err := a.store.GetRoom(ctx, billing.RoomID(ref.ID))
		if err != nil {
			return "", err
		}
		return a.Owner(ctx, Property(r.PropertyID))

	case ResourceLease:
		l, err := a.store.GetLease(ctx, billing.LeaseID(ref.ID))
		if err != nil {
			return "", err
		}
		return a.Owner(ctx, Property(l.PropertyID))

	case ResourceService:
		s, err := a.store.GetService(ctx, billing.ServiceID(ref.ID))
		if err != nil {
			return "", err
		}
		return s.LandlordID, nil

	case ResourcePricePoint:
		id, err := strconv.ParseInt(ref.ID, 10, 64)
		if err != nil {
			return "", &billing.ValidationError{Field: "id", Message: "invalid price point id " + ref.ID}
		}
		p, err := a.store.GetPricePoint(ctx, billing.PricePointID(id))
		if err != nil {
			return "", err
		}
		return a.ScopeOwner(ctx, p.Scope)

	case ResourceReading:
		r, err := a.store.GetReading(ctx, billing.ReadingID(ref.ID))
		if err != nil {
			return "", err
		}
		return a.Owner(ctx, Room(r.RoomID))

	case ResourceUsageRecord:
		u, err := a.store.GetUsage(ctx, billing.UsageRecordID(ref.ID))
		if err != nil {
			return "", err
		}
		return a.Owner(ctx, Room(u.RoomID))

	case ResourceInvoice:
		inv, err := a.store.GetInvoice(ctx, billing.InvoiceID(ref.ID))
		if err != nil {
			return "", err
		}
		return a.Owner(ctx, Lease(inv.LeaseID))
	}
	return "", fmt.Errorf("unknown resource kind %q", ref.Kind)
}

// ScopeOwner returns the landlord owning a price history.
func (a *StoreAuthorizer) ScopeOwner(ctx context.Context, scope billing.PriceScope) (billing.LandlordID, error) {
	if scope.CostType == billing.CostService {
		return a.Owner(ctx, Service(scope.ServiceID))
	}
	return a.Owner(ctx, Property(scope.PropertyID))
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached by the authentication middleware.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
