package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/pbinitiative/zenflow/internal/appcontext"
	otelint "github.com/pbinitiative/zenflow/internal/otel"
)

// RequestId takes the request id from the incoming header or generates one, the id is
// echoed in the response and carried in the request context for logging.
func RequestId() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(otelint.RequestIdHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(otelint.RequestIdHeader, id)
			next.ServeHTTP(w, r.WithContext(appcontext.WithRequestId(r.Context(), id)))
		})
	}
}
