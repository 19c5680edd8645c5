package httpapi

import (
	"expvar"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mapetere/latterpay/internal/logging"
)

var (
	requestsTotal    = expvar.NewInt("requests_total")
	requestsErrors   = expvar.NewInt("requests_errors_total")
	messagesHandled  = expvar.NewInt("messages_handled_total")
	messagesDeduped  = expvar.NewInt("messages_deduped_total")
	rateLimitedTotal = expvar.NewInt("rate_limited_total")
	ipnProcessed     = expvar.NewInt("ipn_processed_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)
		requestsTotal.Add(1)
		if writer.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		}
		logging.Logger.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", writer.status).
			WithField("duration_ms", duration.Milliseconds()).
			WithField("request_id", requestID).
			Info("request")
	})
}
