/*
mutations.go - Data entry for prices, services, readings, usage and leases

PURPOSE:
  Every write that is not an invoice build or a payment goes through the
  Catalog. Each method opens one store transaction, runs the Guard with
  that transaction's Store, and only then writes. A rejected mutation
  leaves no trace.

OPERATIONS:
  Prices:   AddPricePoint, AddPricePoints, DeletePricePoint, ListPriceHistory
  Services: CreateService, UpdateService, DeleteService, RegisterService
  Readings: RecordReading, UpdateReading, VoidReading, DeleteReading
  Usage:    RecordUsage
  Leases:   CreateProperty, CreateRoom, CreateLease, ChangeLeaseStatus

SEE ALSO:
  - guard.go: The rules enforced before each write
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Catalog struct {
	store TxStore

	Clock  Clock
	Logger *zap.Logger
	NewID  func() string
}

func NewCatalog(store TxStore) *Catalog {
	return &Catalog{
		store:  store,
		Clock:  SystemClock,
		Logger: zap.NewNop(),
		NewID:  uuid.NewString,
	}
}

func (c *Catalog) rejected(op string, err error, fields ...zap.Field) error {
	if err != nil {
		fields = append(fields, zap.String("code", Code(err)), zap.Error(err))
		c.Logger.Warn(op+" rejected", fields...)
	}
	return err
}

// =============================================================================
// PRICES
// =============================================================================

type PriceInput struct {
	Scope         PriceScope
	UnitPrice     decimal.Decimal
	EffectiveDate Date
}

func (in PriceInput) Validate() error {
	if err := in.Scope.Validate(); err != nil {
		return err
	}
	if in.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Message: "must not be negative"}
	}
	if in.EffectiveDate.IsZero() {
		return &ValidationError{Field: "effective_date", Message: "required"}
	}
	return nil
}

func (c *Catalog) AddPricePoint(ctx context.Context, in PriceInput) (PricePoint, error) {
	points, err := c.AddPricePoints(ctx, []PriceInput{in})
	if err != nil {
		return PricePoint{}, err
	}
	return points[0], nil
}

// AddPricePoints inserts a batch of price points atomically.
func (c *Catalog) AddPricePoints(ctx context.Context, inputs []PriceInput) ([]PricePoint, error) {
	if len(inputs) == 0 {
		return nil, &ValidationError{Field: "prices", Message: "at least one price is required"}
	}
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}
	out := make([]PricePoint, 0, len(inputs))
	err := c.store.WithTx(ctx, func(s Store) error {
		guard := NewGuard(s)
		for _, in := range inputs {
			if err := c.checkScopeExists(ctx, s, in.Scope); err != nil {
				return err
			}
			if err := guard.CheckAddPricePoint(ctx, in.Scope, in.EffectiveDate); err != nil {
				return err
			}
			p, err := s.InsertPricePoint(ctx, PricePoint{
				Scope:         in.Scope,
				UnitPrice:     in.UnitPrice,
				EffectiveDate: in.EffectiveDate,
				CreatedAt:     c.Clock.Now(),
			})
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, c.rejected("add price", err, zap.Int("prices", len(inputs)))
	}
	for _, p := range out {
		c.Logger.Info("price added",
			zap.Int64("price_point_id", int64(p.ID)),
			zap.String("scope", p.Scope.Key()),
			zap.String("unit_price", p.UnitPrice.String()),
			zap.Stringer("effective_date", p.EffectiveDate))
	}
	return out, nil
}

func (c *Catalog) checkScopeExists(ctx context.Context, s Store, scope PriceScope) error {
	if scope.CostType == CostService {
		_, err := s.GetService(ctx, scope.ServiceID)
		return err
	}
	_, err := s.GetProperty(ctx, scope.PropertyID)
	return err
}

func (c *Catalog) DeletePricePoint(ctx context.Context, id PricePointID) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		if err := NewGuard(s).CheckDelete(ctx, PricePointRef(id)); err != nil {
			return err
		}
		return s.DeletePricePoint(ctx, id)
	})
	if err != nil {
		return c.rejected("delete price", err, zap.Int64("price_point_id", int64(id)))
	}
	c.Logger.Info("price deleted", zap.Int64("price_point_id", int64(id)))
	return nil
}

func (c *Catalog) ListPriceHistory(ctx context.Context, scope PriceScope) ([]PricePoint, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return c.store.ListPricePoints(ctx, scope)
}

// =============================================================================
// SERVICES
// =============================================================================

type ServiceInput struct {
	LandlordID LandlordID
	PropertyID PropertyID
	Name       string
	Kind       ServiceKind
	Unit       string
}

func (c *Catalog) CreateService(ctx context.Context, in ServiceInput) (ServiceDefinition, error) {
	kind, err := ParseServiceKind(string(in.Kind))
	if err != nil {
		return ServiceDefinition{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return ServiceDefinition{}, &ValidationError{Field: "name", Message: "required"}
	}
	now := c.Clock.Now()
	def := ServiceDefinition{
		ID:         ServiceID(c.NewID()),
		LandlordID: in.LandlordID,
		PropertyID: in.PropertyID,
		Name:       strings.TrimSpace(in.Name),
		Kind:       kind,
		Unit:       in.Unit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = c.store.WithTx(ctx, func(s Store) error {
		if def.PropertyID != "" {
			prop, err := s.GetProperty(ctx, def.PropertyID)
			if err != nil {
				return err
			}
			if def.LandlordID == "" {
				def.LandlordID = prop.LandlordID
			}
		}
		return s.SaveService(ctx, def)
	})
	if err != nil {
		return ServiceDefinition{}, c.rejected("create service", err)
	}
	return def, nil
}

func (c *Catalog) UpdateService(ctx context.Context, id ServiceID, patch ServicePatch) (ServiceDefinition, error) {
	if patch.Kind != nil {
		kind, err := ParseServiceKind(string(*patch.Kind))
		if err != nil {
			return ServiceDefinition{}, err
		}
		patch.Kind = &kind
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return ServiceDefinition{}, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	var def ServiceDefinition
	err := c.store.WithTx(ctx, func(s Store) error {
		var err error
		def, err = s.GetService(ctx, id)
		if err != nil {
			return err
		}
		p := patch.Against(def)
		if err := NewGuard(s).CheckEdit(ctx, ServiceRef(id), p); err != nil {
			return err
		}
		if p.Name != nil {
			def.Name = strings.TrimSpace(*p.Name)
		}
		if p.Kind != nil {
			def.Kind = *p.Kind
		}
		if p.Unit != nil {
			def.Unit = *p.Unit
		}
		def.UpdatedAt = c.Clock.Now()
		return s.SaveService(ctx, def)
	})
	if err != nil {
		return ServiceDefinition{}, c.rejected("update service", err, zap.String("service_id", string(id)))
	}
	return def, nil
}

// DeleteService removes an unreferenced service with its price history.
func (c *Catalog) DeleteService(ctx context.Context, id ServiceID) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		if err := NewGuard(s).CheckDelete(ctx, ServiceRef(id)); err != nil {
			return err
		}
		points, err := s.ListPricePoints(ctx, ServiceScope(id))
		if err != nil {
			return err
		}
		for _, p := range points {
			if err := s.DeletePricePoint(ctx, p.ID); err != nil {
				return err
			}
		}
		return s.DeleteService(ctx, id)
	})
	if err != nil {
		return c.rejected("delete service", err, zap.String("service_id", string(id)))
	}
	c.Logger.Info("service deleted", zap.String("service_id", string(id)))
	return nil
}

// RegisterService opts a lease into a fixed-monthly service from from
// until the exclusive day to, or indefinitely.
func (c *Catalog) RegisterService(ctx context.Context, lease LeaseID, service ServiceID, from Date, to *Date) (ServiceRegistration, error) {
	if from.IsZero() {
		return ServiceRegistration{}, &ValidationError{Field: "start_date", Message: "required"}
	}
	if to != nil && !to.After(from) {
		return ServiceRegistration{}, &ValidationError{Field: "end_date", Message: "must be after start_date"}
	}
	reg := ServiceRegistration{
		ID:        RegistrationID(c.NewID()),
		LeaseID:   lease,
		ServiceID: service,
		StartDate: from,
		EndDate:   to,
		CreatedAt: c.Clock.Now(),
	}
	err := c.store.WithTx(ctx, func(s Store) error {
		l, err := s.GetLease(ctx, lease)
		if err != nil {
			return err
		}
		if l.Status == LeaseTerminated {
			return &ConflictError{Code: CodeLeaseTerminated, Message: fmt.Sprintf("lease %s is terminated", lease)}
		}
		def, err := s.GetService(ctx, service)
		if err != nil {
			return err
		}
		if def.Kind != ServiceFixedMonthly {
			return &ValidationError{Field: "service_id", Message: "only fixed-monthly services take registrations"}
		}
		if def.PropertyID != "" && def.PropertyID != l.PropertyID {
			return &ValidationError{Field: "service_id", Message: "service belongs to another property"}
		}
		return s.InsertRegistration(ctx, reg)
	})
	if err != nil {
		return ServiceRegistration{}, c.rejected("register service", err, zap.String("lease_id", string(lease)))
	}
	return reg, nil
}

// =============================================================================
// READINGS
// =============================================================================

type ReadingInput struct {
	RoomID        RoomID
	CostType      CostType
	Period        Period
	PreviousIndex decimal.Decimal
	CurrentIndex  decimal.Decimal
	RecordedAt    time.Time
}

func (in ReadingInput) Validate() error {
	if in.RoomID == "" {
		return &ValidationError{Field: "room_id", Message: "required"}
	}
	if !in.CostType.IsUtility() {
		return &ValidationError{Field: "type", Message: "readings are electricity or water"}
	}
	if err := in.Period.Validate(); err != nil {
		return err
	}
	if in.PreviousIndex.IsNegative() {
		return &ValidationError{Field: "previous_index", Message: "must not be negative"}
	}
	if in.CurrentIndex.LessThan(in.PreviousIndex) {
		return &ValidationError{Field: "current_index", Message: "must not be below previous_index"}
	}
	return nil
}

func (c *Catalog) RecordReading(ctx context.Context, in ReadingInput) (ConsumptionReading, error) {
	if in.RecordedAt.IsZero() {
		in.RecordedAt = c.Clock.Now()
	}
	if err := in.Validate(); err != nil {
		return ConsumptionReading{}, err
	}
	r := ConsumptionReading{
		ID:            ReadingID(c.NewID()),
		RoomID:        in.RoomID,
		CostType:      in.CostType,
		Period:        in.Period,
		PreviousIndex: in.PreviousIndex,
		CurrentIndex:  in.CurrentIndex,
		RecordedAt:    in.RecordedAt.UTC(),
		Status:        ReadingRecorded,
		CreatedAt:     c.Clock.Now(),
	}
	err := c.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetRoom(ctx, in.RoomID); err != nil {
			return err
		}
		return s.InsertReading(ctx, r)
	})
	if err != nil {
		return ConsumptionReading{}, c.rejected("record reading", err, zap.String("room_id", string(in.RoomID)))
	}
	return r, nil
}

// ReadingPatch edits the indexes or date of a reading that is not billed.
// Void readings stay void when edited.
type ReadingPatch struct {
	PreviousIndex *decimal.Decimal
	CurrentIndex  *decimal.Decimal
	RecordedAt    *time.Time
}

func (ReadingPatch) Critical() bool { return true }

func (c *Catalog) UpdateReading(ctx context.Context, id ReadingID, patch ReadingPatch) (ConsumptionReading, error) {
	var r ConsumptionReading
	err := c.store.WithTx(ctx, func(s Store) error {
		if err := NewGuard(s).CheckEdit(ctx, ReadingRef(id), patch); err != nil {
			return err
		}
		var err error
		r, err = s.GetReading(ctx, id)
		if err != nil {
			return err
		}
		if patch.PreviousIndex != nil {
			r.PreviousIndex = *patch.PreviousIndex
		}
		if patch.CurrentIndex != nil {
			r.CurrentIndex = *patch.CurrentIndex
		}
		if patch.RecordedAt != nil {
			r.RecordedAt = patch.RecordedAt.UTC()
		}
		in := ReadingInput{RoomID: r.RoomID, CostType: r.CostType, Period: r.Period,
			PreviousIndex: r.PreviousIndex, CurrentIndex: r.CurrentIndex}
		if err := in.Validate(); err != nil {
			return err
		}
		return s.UpdateReading(ctx, r)
	})
	if err != nil {
		return ConsumptionReading{}, c.rejected("update reading", err, zap.String("reading_id", string(id)))
	}
	return r, nil
}

// VoidReading marks a recorded reading void so a corrected one can replace it.
func (c *Catalog) VoidReading(ctx context.Context, id ReadingID) (ConsumptionReading, error) {
	var r ConsumptionReading
	err := c.store.WithTx(ctx, func(s Store) error {
		if err := NewGuard(s).CheckEdit(ctx, ReadingRef(id), StructuralPatch{}); err != nil {
			return err
		}
		var err error
		r, err = s.GetReading(ctx, id)
		if err != nil {
			return err
		}
		r.Status = ReadingVoid
		return s.UpdateReading(ctx, r)
	})
	if err != nil {
		return ConsumptionReading{}, c.rejected("void reading", err, zap.String("reading_id", string(id)))
	}
	return r, nil
}

func (c *Catalog) DeleteReading(ctx context.Context, id ReadingID) error {
	err := c.store.WithTx(ctx, func(s Store) error {
		if err := NewGuard(s).CheckDelete(ctx, ReadingRef(id)); err != nil {
			return err
		}
		return s.DeleteReading(ctx, id)
	})
	return c.rejected("delete reading", err, zap.String("reading_id", string(id)))
}

// =============================================================================
// USAGE
// =============================================================================

type UsageInput struct {
	ServiceID ServiceID
	RoomID    RoomID
	Date      Date
	Quantity  decimal.Decimal
	Note      string
}

func (c *Catalog) RecordUsage(ctx context.Context, in UsageInput) (ServiceUsageRecord, error) {
	switch {
	case in.ServiceID == "":
		return ServiceUsageRecord{}, &ValidationError{Field: "service_id", Message: "required"}
	case in.RoomID == "":
		return ServiceUsageRecord{}, &ValidationError{Field: "room_id", Message: "required"}
	case in.Date.IsZero():
		return ServiceUsageRecord{}, &ValidationError{Field: "date", Message: "required"}
	case !in.Quantity.IsPositive():
		return ServiceUsageRecord{}, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	u := ServiceUsageRecord{
		ID:        UsageRecordID(c.NewID()),
		ServiceID: in.ServiceID,
		RoomID:    in.RoomID,
		Date:      in.Date,
		Quantity:  in.Quantity,
		Note:      in.Note,
		CreatedAt: c.Clock.Now(),
	}
	err := c.store.WithTx(ctx, func(s Store) error {
		def, err := s.GetService(ctx, in.ServiceID)
		if err != nil {
			return err
		}
		if def.Kind == ServiceFixedMonthly {
			return &ValidationError{Field: "service_id", Message: "fixed-monthly services are billed through registrations"}
		}
		room, err := s.GetRoom(ctx, in.RoomID)
		if err != nil {
			return err
		}
		if def.PropertyID != "" && def.PropertyID != room.PropertyID {
			return &ValidationError{Field: "service_id", Message: "service belongs to another property"}
		}
		return s.InsertUsage(ctx, u)
	})
	if err != nil {
		return ServiceUsageRecord{}, c.rejected("record usage", err, zap.String("service_id", string(in.ServiceID)))
	}
	return u, nil
}

// =============================================================================
// PROPERTIES, ROOMS, LEASES
// =============================================================================

func (c *Catalog) CreateProperty(ctx context.Context, landlord LandlordID, name string) (Property, error) {
	if landlord == "" {
		return Property{}, &ValidationError{Field: "landlord_id", Message: "required"}
	}
	if strings.TrimSpace(name) == "" {
		return Property{}, &ValidationError{Field: "name", Message: "required"}
	}
	p := Property{ID: PropertyID(c.NewID()), LandlordID: landlord, Name: strings.TrimSpace(name), CreatedAt: c.Clock.Now()}
	if err := c.store.SaveProperty(ctx, p); err != nil {
		return Property{}, err
	}
	return p, nil
}

func (c *Catalog) CreateRoom(ctx context.Context, property PropertyID, name string) (Room, error) {
	if strings.TrimSpace(name) == "" {
		return Room{}, &ValidationError{Field: "name", Message: "required"}
	}
	r := Room{ID: RoomID(c.NewID()), PropertyID: property, Name: strings.TrimSpace(name), CreatedAt: c.Clock.Now()}
	err := c.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetProperty(ctx, property); err != nil {
			return err
		}
		return s.SaveRoom(ctx, r)
	})
	if err != nil {
		return Room{}, err
	}
	return r, nil
}

// CreateLease stores a new lease in status New. PropertyID is taken from
// the room.
func (c *Catalog) CreateLease(ctx context.Context, l Lease) (Lease, error) {
	timing, err := ParsePaymentTiming(string(l.PaymentTiming))
	if err != nil {
		return Lease{}, err
	}
	l.PaymentTiming = timing
	if l.BillingPeriodMonths == 0 {
		l.BillingPeriodMonths = 1
	}
	if err := l.Validate(); err != nil {
		return Lease{}, err
	}
	now := c.Clock.Now()
	l.ID = LeaseID(c.NewID())
	l.Status = LeaseNew
	l.TerminatedAt = nil
	l.CreatedAt, l.UpdatedAt = now, now
	err = c.store.WithTx(ctx, func(s Store) error {
		room, err := s.GetRoom(ctx, l.RoomID)
		if err != nil {
			return err
		}
		l.PropertyID = room.PropertyID
		return s.SaveLease(ctx, l)
	})
	if err != nil {
		return Lease{}, c.rejected("create lease", err, zap.String("room_id", string(l.RoomID)))
	}
	return l, nil
}

// ChangeLeaseStatus applies a lifecycle transition effective on at.
func (c *Catalog) ChangeLeaseStatus(ctx context.Context, id LeaseID, to LeaseStatus, at Date) (Lease, error) {
	if at.IsZero() {
		at = c.Clock.Today()
	}
	var l Lease
	err := c.store.WithTx(ctx, func(s Store) error {
		current, err := s.GetLease(ctx, id)
		if err != nil {
			return err
		}
		l, err = TransitionLease(current, to, at)
		if err != nil {
			return err
		}
		l.UpdatedAt = c.Clock.Now()
		return s.SaveLease(ctx, l)
	})
	if err != nil {
		return Lease{}, c.rejected("change lease status", err, zap.String("lease_id", string(id)))
	}
	c.Logger.Info("lease status changed", zap.String("lease_id", string(id)), zap.String("status", string(to)))
	return l, nil
}
