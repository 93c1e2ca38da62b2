/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the pricing resolver, catalog, invoice builder and payment
  ledger via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to the billing package.

ENDPOINTS:
  Properties and leases:
    POST   /api/properties                       Create property
    POST   /api/properties/{id}/rooms            Create room
    POST   /api/leases                           Create lease (status new)
    POST   /api/leases/{id}/status               Lifecycle transition

  Prices:
    GET    /api/properties/{id}/prices           Resolve ?type=&service_id=&as_of=
    GET    /api/properties/{id}/prices/history   Full history of one scope
    POST   /api/properties/{id}/prices           Add price point
    POST   /api/properties/{id}/prices/import    Add a tariff sheet atomically
    DELETE /api/prices/{id}                      Delete unreferenced price point

  Services:
    POST   /api/services                         Create service
    PATCH  /api/services/{id}                    Edit (kind/unit guarded)
    DELETE /api/services/{id}                    Delete unreferenced service
    POST   /api/leases/{id}/services             Register fixed-monthly service

  Readings and usage:
    POST   /api/readings                         Record meter reading
    PATCH  /api/readings/{id}                    Correct an unbilled reading
    POST   /api/readings/{id}/void               Void an unbilled reading
    DELETE /api/readings/{id}                    Delete an unbilled reading
    POST   /api/usage                            Record service usage

  Invoices:
    POST   /api/leases/{id}/invoices             Build invoice for a period
    GET    /api/leases/{id}/invoices             List with derived status
    GET    /api/invoices/{id}                    Invoice, lines, payments, status
    POST   /api/invoices/{id}/void               Void an unpaid invoice
    POST   /api/invoices/{id}/payments           Record payment

REQUEST FLOW:
  1. Decode and validate the body (validator/v10)
  2. Authorize every resource touched (skipped without authentication)
  3. Call the billing package
  4. Serialize response, or map the error code to a status (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/lease-billing/authz"
	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from storage: the transactional billing
// store plus Reset for demo scenarios.
type Store interface {
	billing.TxStore
	Reset(ctx context.Context) error
}

// Options configures NewHandler.
type Options struct {
	Billing billing.BuilderConfig
	Logger  *zap.Logger
	Clock   billing.Clock

	// Tokens enables authorization of every resource a request touches.
	Tokens *authz.Tokens
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Catalog  *billing.Catalog
	Builder  *billing.Builder
	Ledger   *billing.PaymentLedger
	Resolver *billing.Resolver
	Tariffs  *factory.TariffFactory

	// Authorizer is nil when authentication is disabled.
	Authorizer authz.Authorizer
	Tokens     *authz.Tokens

	clock    billing.Clock
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the billing components over store.
func NewHandler(store Store, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = billing.SystemClock
	}

	builder := billing.NewBuilder(store, opts.Billing)
	builder.Clock = opts.Clock
	builder.Logger = opts.Logger.Named("builder")

	catalog := billing.NewCatalog(store)
	catalog.Clock = opts.Clock
	catalog.Logger = opts.Logger.Named("catalog")

	ledger := billing.NewPaymentLedger(store, opts.Billing.Rounding)
	ledger.Clock = opts.Clock
	ledger.Logger = opts.Logger.Named("ledger")

	h := &Handler{
		Store:    store,
		Catalog:  catalog,
		Builder:  builder,
		Ledger:   ledger,
		Resolver: billing.NewResolver(store),
		Tariffs:  factory.NewTariffFactory(),
		Tokens:   opts.Tokens,
		clock:    opts.Clock,
		validate: newValidator(),
	}
	if opts.Tokens != nil {
		h.Authorizer = authz.NewStoreAuthorizer(store)
	}
	return h
}

// =============================================================================
// PROPERTY, ROOM AND LEASE HANDLERS
// =============================================================================

func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req CreatePropertyRequest
	if !h.decode(w, r, &req) {
		return
	}
	landlord, err := h.landlord(r.Context(), req.LandlordID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Catalog.CreateProperty(r.Context(), landlord, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPropertyDTO(p))
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	property := billing.PropertyID(chi.URLParam(r, "id"))

	var req CreateRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.authorize(r.Context(), authz.Property(property)); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := h.Catalog.CreateRoom(r.Context(), property, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomDTO(room))
}

func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorize(r.Context(), authz.Room(billing.RoomID(req.RoomID))); err != nil {
		writeError(w, r, err)
		return
	}

	lease, err := h.Catalog.CreateLease(r.Context(), billing.Lease{
		RoomID:              billing.RoomID(req.RoomID),
		TenantName:          req.TenantName,
		RentAmount:          req.RentAmount,
		BillingPeriodMonths: req.BillingPeriodMonths,
		PaymentTiming:       billing.PaymentTiming(req.PaymentTiming),
		DueOffsetDays:       req.DueOffsetDays,
		StartDate:           start,
		EndDate:             end,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaseDTO(lease))
}

func (h *Handler) ChangeLeaseStatus(w http.ResponseWriter, r *http.Request) {
	id := billing.LeaseID(chi.URLParam(r, "id"))

	var req LeaseStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := billing.ParseLeaseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := parseDate("effective_date", req.EffectiveDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorize(r.Context(), authz.Lease(id)); err != nil {
		writeError(w, r, err)
		return
	}
	lease, err := h.Catalog.ChangeLeaseStatus(r.Context(), id, status, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(lease))
}

// =============================================================================
// PRICE HANDLERS
// =============================================================================

// ResolvePrice answers which price point applies on a date. The API is the
// only place a "current price" is computed; clients display it as is.
func (h *Handler) ResolvePrice(w http.ResponseWriter, r *http.Request) {
	property := billing.PropertyID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	scope, err := scopeOf(property, q.Get("type"), q.Get("service_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	asOfParam := q.Get("as_of")
	if asOfParam == "" {
		asOfParam = q.Get("asOf")
	}
	asOf := h.clock.Today()
	if asOfParam != "" {
		if asOf, err = parseDate("as_of", asOfParam); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.authorizeScope(r.Context(), property, scope); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.Resolver.Resolve(r.Context(), scope, asOf)
	if err != nil {
		if errors.Is(err, billing.ErrMissingPrice) {
			writeErrorStatus(w, r, http.StatusNotFound, billing.CodeMissingPrice, err)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolvedPriceDTO{AsOf: asOf, Price: toPricePointDTO(p)})
}

func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	property := billing.PropertyID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	scope, err := scopeOf(property, q.Get("type"), q.Get("service_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeScope(r.Context(), property, scope); err != nil {
		writeError(w, r, err)
		return
	}
	points, err := h.Catalog.ListPriceHistory(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PriceHistoryDTO{Scope: scope.Key(), Prices: toPricePointDTOs(points)})
}

func (h *Handler) AddPrice(w http.ResponseWriter, r *http.Request) {
	property := billing.PropertyID(chi.URLParam(r, "id"))

	var req AddPriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	scope, err := scopeOf(property, req.Type, req.ServiceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	effective, err := parseDate("effective_date", req.EffectiveDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeScope(r.Context(), property, scope); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.Catalog.AddPricePoint(r.Context(), billing.PriceInput{
		Scope:         scope,
		UnitPrice:     req.UnitPrice,
		EffectiveDate: effective,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPricePointDTO(p))
}

// ImportTariff adds every price of a tariff sheet, or none of them.
func (h *Handler) ImportTariff(w http.ResponseWriter, r *http.Request) {
	property := billing.PropertyID(chi.URLParam(r, "id"))

	var sheet factory.TariffJSON
	if !h.decode(w, r, &sheet) {
		return
	}
	if sheet.PropertyID != "" && sheet.PropertyID != string(property) {
		writeError(w, r, &billing.ValidationError{Field: "property_id", Message: "does not match the URL"})
		return
	}
	sheet.PropertyID = string(property)

	inputs, err := h.Tariffs.FromJSON(sheet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, in := range inputs {
		if err := h.authorizeScope(r.Context(), property, in.Scope); err != nil {
			writeError(w, r, err)
			return
		}
	}

	points, err := h.Catalog.AddPricePoints(r.Context(), inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPricePointDTOs(points))
}

func (h *Handler) DeletePrice(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, &billing.ValidationError{Field: "id", Message: "invalid price point id " + raw})
		return
	}
	id := billing.PricePointID(n)

	if err := h.authorize(r.Context(), authz.PricePoint(id)); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.DeletePricePoint(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SERVICE HANDLERS
// =============================================================================

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := billing.ServiceInput{
		LandlordID: billing.LandlordID(req.LandlordID),
		PropertyID: billing.PropertyID(req.PropertyID),
		Name:       req.Name,
		Kind:       billing.ServiceKind(req.Kind),
		Unit:       req.Unit,
	}
	if caller, ok := authz.CallerFrom(r.Context()); ok {
		in.LandlordID = caller.LandlordID
	}
	if in.PropertyID != "" {
		if err := h.authorize(r.Context(), authz.Property(in.PropertyID)); err != nil {
			writeError(w, r, err)
			return
		}
	} else if in.LandlordID == "" {
		writeError(w, r, &billing.ValidationError{Field: "landlord_id", Message: "required without property_id"})
		return
	}

	def, err := h.Catalog.CreateService(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServiceDTO(def))
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id := billing.ServiceID(chi.URLParam(r, "id"))

	var req UpdateServiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.authorize(r.Context(), authz.Service(id)); err != nil {
		writeError(w, r, err)
		return
	}

	patch := billing.ServicePatch{Name: req.Name, Unit: req.Unit}
	if req.Kind != nil {
		kind := billing.ServiceKind(*req.Kind)
		patch.Kind = &kind
	}
	def, err := h.Catalog.UpdateService(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceDTO(def))
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id := billing.ServiceID(chi.URLParam(r, "id"))

	if err := h.authorize(r.Context(), authz.Service(id)); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.DeleteService(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RegisterService(w http.ResponseWriter, r *http.Request) {
	lease := billing.LeaseID(chi.URLParam(r, "id"))

	var req RegisterServiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	service := billing.ServiceID(req.ServiceID)
	if err := h.authorize(r.Context(), authz.Lease(lease), authz.Service(service)); err != nil {
		writeError(w, r, err)
		return
	}

	reg, err := h.Catalog.RegisterService(r.Context(), lease, service, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationDTO(reg))
}

// =============================================================================
// READING AND USAGE HANDLERS
// =============================================================================

func (h *Handler) RecordReading(w http.ResponseWriter, r *http.Request) {
	var req RecordReadingRequest
	if !h.decode(w, r, &req) {
		return
	}
	ct, err := billing.ParseCostType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	period, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	room := billing.RoomID(req.RoomID)
	if err := h.authorize(r.Context(), authz.Room(room)); err != nil {
		writeError(w, r, err)
		return
	}

	in := billing.ReadingInput{
		RoomID:        room,
		CostType:      ct,
		Period:        period,
		PreviousIndex: req.PreviousIndex,
		CurrentIndex:  req.CurrentIndex,
	}
	if req.RecordedAt != nil {
		in.RecordedAt = *req.RecordedAt
	}
	reading, err := h.Catalog.RecordReading(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReadingDTO(reading))
}

func (h *Handler) UpdateReading(w http.ResponseWriter, r *http.Request) {
	id := billing.ReadingID(chi.URLParam(r, "id"))

	var req UpdateReadingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.authorize(r.Context(), authz.Reading(id)); err != nil {
		writeError(w, r, err)
		return
	}
	reading, err := h.Catalog.UpdateReading(r.Context(), id, billing.ReadingPatch{
		PreviousIndex: req.PreviousIndex,
		CurrentIndex:  req.CurrentIndex,
		RecordedAt:    req.RecordedAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReadingDTO(reading))
}

func (h *Handler) VoidReading(w http.ResponseWriter, r *http.Request) {
	id := billing.ReadingID(chi.URLParam(r, "id"))

	if err := h.authorize(r.Context(), authz.Reading(id)); err != nil {
		writeError(w, r, err)
		return
	}
	reading, err := h.Catalog.VoidReading(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReadingDTO(reading))
}

func (h *Handler) DeleteReading(w http.ResponseWriter, r *http.Request) {
	id := billing.ReadingID(chi.URLParam(r, "id"))

	if err := h.authorize(r.Context(), authz.Reading(id)); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.DeleteReading(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	room, service := billing.RoomID(req.RoomID), billing.ServiceID(req.ServiceID)
	if err := h.authorize(r.Context(), authz.Room(room), authz.Service(service)); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.Catalog.RecordUsage(r.Context(), billing.UsageInput{
		ServiceID: service,
		RoomID:    room,
		Date:      date,
		Quantity:  req.Quantity,
		Note:      req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUsageDTO(u))
}

// =============================================================================
// INVOICE AND PAYMENT HANDLERS
// =============================================================================

// BuildInvoice builds the invoice of a lease for one period. Without
// period_end the period follows the lease's billing cadence.
func (h *Handler) BuildInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.LeaseID(chi.URLParam(r, "id"))
	ctx := r.Context()

	var req BuildInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.authorize(ctx, authz.Lease(id)); err != nil {
		writeError(w, r, err)
		return
	}

	var period billing.Period
	if req.PeriodEnd == "" {
		start, err := parseDate("period_start", req.PeriodStart)
		if err != nil {
			writeError(w, r, err)
			return
		}
		lease, err := h.Store.GetLease(ctx, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		period = lease.PeriodStarting(start)
	} else {
		var err error
		if period, err = parsePeriod(req.PeriodStart, req.PeriodEnd); err != nil {
			writeError(w, r, err)
			return
		}
	}

	inv, err := h.Builder.Build(ctx, id, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.Ledger.Statement(ctx, inv.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(st))
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	id := billing.LeaseID(chi.URLParam(r, "id"))

	if err := h.authorize(r.Context(), authz.Lease(id)); err != nil {
		writeError(w, r, err)
		return
	}
	statements, err := h.Ledger.Statements(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]InvoiceDTO, len(statements))
	for i, st := range statements {
		dtos[i] = toInvoiceDTO(st)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	if err := h.authorize(r.Context(), authz.Invoice(id)); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.Ledger.Statement(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(st))
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req VoidInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.authorize(r.Context(), authz.Invoice(id)); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.Ledger.VoidInvoice(r.Context(), id, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.Ledger.Statement(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(st))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	method, err := billing.ParsePaymentMethod(req.Method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorize(r.Context(), authz.Invoice(id)); err != nil {
		writeError(w, r, err)
		return
	}

	pay, status, err := h.Ledger.RecordPayment(r.Context(), billing.PaymentInput{
		InvoiceID:   id,
		Amount:      req.Amount,
		Method:      method,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.Ledger.Statement(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResultDTO{
		Payment:    toPaymentDTO(pay),
		Status:     string(status),
		BalanceDue: st.BalanceDue,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into dst and validates it. On failure it has
// already written the response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return false
		}
		writeError(w, r, &billing.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, validationError(err))
		return false
	}
	return true
}

// authorize checks every ref against the caller. It is a no-op when
// authentication is disabled.
func (h *Handler) authorize(ctx context.Context, refs ...authz.ResourceRef) error {
	if h.Authorizer == nil {
		return nil
	}
	caller, ok := authz.CallerFrom(ctx)
	if !ok {
		return authz.ErrUnauthenticated
	}
	for _, ref := range refs {
		if err := h.Authorizer.Authorize(ctx, caller, ref); err != nil {
			return err
		}
	}
	return nil
}

// authorizeScope authorizes the property in the URL and, for service
// prices, the service, which must belong to that property or be
// landlord-wide.
func (h *Handler) authorizeScope(ctx context.Context, property billing.PropertyID, scope billing.PriceScope) error {
	if err := h.authorize(ctx, authz.Property(property)); err != nil {
		return err
	}
	if scope.CostType != billing.CostService {
		return nil
	}
	if err := h.authorize(ctx, authz.Service(scope.ServiceID)); err != nil {
		return err
	}
	def, err := h.Store.GetService(ctx, scope.ServiceID)
	if err != nil {
		return err
	}
	if def.PropertyID != "" && def.PropertyID != property {
		return &billing.ValidationError{Field: "service_id", Message: "service belongs to another property"}
	}
	return nil
}

// landlord returns the authenticated caller, or the landlord named in the
// request when authentication is disabled.
func (h *Handler) landlord(ctx context.Context, requested string) (billing.LandlordID, error) {
	if caller, ok := authz.CallerFrom(ctx); ok {
		return caller.LandlordID, nil
	}
	if requested == "" {
		return "", &billing.ValidationError{Field: "landlord_id", Message: "required"}
	}
	return billing.LandlordID(requested), nil
}

func scopeOf(property billing.PropertyID, costType, service string) (billing.PriceScope, error) {
	if costType == "" {
		return billing.PriceScope{}, &billing.ValidationError{Field: "type", Message: "required"}
	}
	ct, err := billing.ParseCostType(costType)
	if err != nil {
		return billing.PriceScope{}, err
	}
	scope := billing.UtilityScope(property, ct)
	if ct == billing.CostService {
		scope = billing.ServiceScope(billing.ServiceID(service))
	}
	return scope, scope.Validate()
}

// parseDate parses YYYY-MM-DD. An empty string yields the zero Date.
func parseDate(field, s string) (billing.Date, error) {
	if s == "" {
		return billing.Date{}, nil
	}
	d, err := billing.ParseDate(s)
	if err != nil {
		return billing.Date{}, &billing.ValidationError{Field: field, Message: "expected YYYY-MM-DD"}
	}
	return d, nil
}

func parseOptionalDate(field, s string) (*billing.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parsePeriod(start, end string) (billing.Period, error) {
	s, err := parseDate("period_start", start)
	if err != nil {
		return billing.Period{}, err
	}
	e, err := parseDate("period_end", end)
	if err != nil {
		return billing.Period{}, err
	}
	return billing.NewPeriod(s, e)
}
