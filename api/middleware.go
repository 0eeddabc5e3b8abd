package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/logger"
	"go.uber.org/zap"
)

// ActorHeader carries the acting user. Authentication happens upstream.
const ActorHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// =============================================================================
// MIDDLEWARE
// =============================================================================

// RequestLogger logs one line per request and attaches a request-scoped
// logger to the context. It must run after middleware.RequestID.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			l := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			if actor := r.Header.Get(ActorHeader); actor != "" {
				l = l.With(zap.String("user_id", actor))
			}
			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), l)))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if ww.Status() >= http.StatusInternalServerError {
				l.Error("request failed", fields...)
				return
			}
			l.Info("request", fields...)
		})
	}
}

// Actor copies the X-User-ID header into the context for audit and
// created_by fields.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			r = r.WithContext(generic.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// REQUEST DECODING
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors maps a failed validation to json field -> failed tag.
type fieldErrors map[string]string

func (f fieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for field, tag := range f {
		parts = append(parts, fmt.Sprintf("%s: %s", field, tag))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// decode reads a JSON body into dst and runs the struct tags.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return generic.NewValidationError("EMPTY_BODY", "request body is required")
		}
		return generic.NewValidationError("INVALID_JSON", fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		fields := fieldErrors{}
		for _, fe := range verrs {
			fields[fieldPath(fe.Namespace())] = fe.Tag()
		}
		return fields
	}
	return nil
}

// fieldPath drops the root struct name: "PaymentRequest.amount" -> "amount".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	var fe fieldErrors
	if errors.As(err, &fe) {
		return http.StatusBadRequest
	}
	switch generic.KindOf(err) {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case generic.KindConcurrency:
		return http.StatusConflict
	case generic.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its stable code. Internal errors are logged
// and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)

	var fe fieldErrors
	if errors.As(err, &fe) {
		writeJSON(w, status, ErrorResponse{
			Error:   "invalid request",
			Code:    "VALIDATION_FAILED",
			Kind:    string(generic.KindValidation),
			Details: map[string]string(fe),
		})
		return
	}

	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      generic.CodeOf(err),
		Kind:      string(generic.KindOf(err)),
		Retryable: generic.IsRetryable(err),
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), nil).Error("internal error", zap.Error(err))
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
