package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/lease-billing/authz"
	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/logger"
)

// Codes raised by the HTTP layer itself.
const (
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeRequestInProgress    = "REQUEST_IN_PROGRESS"
	CodeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"
	CodeRequestTooLarge      = "REQUEST_TOO_LARGE"
)

var statusByCode = map[string]int{
	billing.CodeValidation:    http.StatusBadRequest,
	billing.CodePriceInUse:    http.StatusBadRequest,
	billing.CodeServiceInUse:  http.StatusBadRequest,
	billing.CodeReadingBilled: http.StatusBadRequest,
	billing.CodeUsageBilled:   http.StatusBadRequest,
	billing.CodeOverpayment:   http.StatusBadRequest,

	CodeUnauthenticated:  http.StatusUnauthorized,
	authz.CodeForbidden:  http.StatusForbidden,
	billing.CodeNotFound: http.StatusNotFound,

	billing.CodeInvoiceExists:          http.StatusConflict,
	billing.CodeInvoiceVoid:            http.StatusConflict,
	billing.CodeInvoiceHasPayments:     http.StatusConflict,
	billing.CodeRetroactivePrice:       http.StatusConflict,
	billing.CodeLeaseTerminated:        http.StatusConflict,
	billing.CodeInvalidTransition:      http.StatusConflict,
	billing.CodeConcurrentModification: http.StatusConflict,
	CodeRequestInProgress:              http.StatusConflict,
	CodeIdempotencyKeyReused:           http.StatusConflict,

	CodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	billing.CodeMissingPrice:     http.StatusUnprocessableEntity,
	billing.CodeInactiveLease:    http.StatusUnprocessableEntity,
	billing.CodeDuplicateReading: http.StatusUnprocessableEntity,
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func errorCode(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.As(err, &tooLarge):
		return CodeRequestTooLarge
	}
	return billing.Code(err)
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError maps err to its code and status. Internal errors are logged
// and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	writeErrorStatus(w, r, StatusFor(code), code, err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	resp := ErrorResponse{Status: "error", Code: code, Message: err.Error()}
	var ve *billing.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError reports the first failed rule as a billing.ValidationError.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &billing.ValidationError{Field: "body", Message: err.Error()}
	}
	fe := errs[0]
	msg := "failed " + fe.Tag()
	switch fe.Tag() {
	case "required", "required_if":
		msg = "required"
	case "oneof":
		msg = "must be one of: " + fe.Param()
	case "datetime":
		msg = "expected format " + fe.Param()
	case "min", "max":
		msg = "must be " + fe.Tag() + " " + fe.Param()
	}
	return &billing.ValidationError{Field: fe.Field(), Message: msg}
}
