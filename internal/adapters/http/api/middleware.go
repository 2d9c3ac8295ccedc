package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/feedtrace/pkg/logger"
	"github.com/okian/feedtrace/pkg/metrics"
)

var errPanic = errors.New("handler panicked")

// instrument records request metrics for endpoint and turns a handler panic
// into a 500.
func instrument(next http.HandlerFunc, endpoint string, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if v := recover(); v != nil {
				log.Error(r.Context(), "handler panicked",
					logger.String("endpoint", endpoint),
					logger.Any("panic", v),
				)
				if !rec.wrote {
					writeError(rec, http.StatusInternalServerError, "internal_error", errPanic)
				}
			}

			status := strconv.Itoa(rec.status)
			metrics.RecordHTTPRequest(endpoint, r.Method, status)
			metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(time.Since(start).Microseconds())/1000)
			if rec.status >= http.StatusBadRequest {
				metrics.RecordErrorByComponent("http", errorType(rec.status))
			}
		}()

		next(rec, r)
	}
}

// errorType buckets a status code for the error counter.
func errorType(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "backpressure"
	case status == http.StatusRequestEntityTooLarge:
		return "too_large"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.status = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
