package metrics

import (
	"net/http"
)

// statusRecorder captures the response status code for metrics. A handler
// that never calls WriteHeader implicitly answers 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware returns chi-compatible middleware that records request
// counts by response status class, plus an aggregate error count for
// statuses >= 400.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.IncRequests(rec.status)
			if rec.status >= 400 {
				m.IncErrors()
			}
		})
	}
}
