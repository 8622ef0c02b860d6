package middleware

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// QueryFilter keeps only the allowed query parameters and drops their blank values.
// Values are trimmed so `?state= ACTIVE` matches like `?state=ACTIVE`.
func QueryFilter(allowed ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			filtered := make(url.Values, len(q))
			for k, vs := range q {
				if !slices.Contains(allowed, k) {
					continue
				}
				for _, v := range vs {
					if v = strings.TrimSpace(v); v != "" {
						filtered[k] = append(filtered[k], v)
					}
				}
			}
			r.URL.RawQuery = filtered.Encode()
			next.ServeHTTP(w, r)
		})
	}
}
