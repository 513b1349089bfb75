package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AlexKimmel/AdmitLite/internal/admission"
	"github.com/AlexKimmel/AdmitLite/internal/auth"
)

// RateLimit guards every path under guardPrefix with the limiter:
// each request atomically consumes one slot (TryAcquire) keyed by the
// authenticated caller identity. Paths outside the prefix pass
// through untouched — the explicit admission endpoints must never
// spend the quota they are asked about.
func RateLimit(
	lim *admission.Limiter,
	guardPrefix string,
	onAllowed func(),
	onLimited func(scope string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, guardPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			identity := auth.IdentityFrom(r.Context())

			// endpoint tag feeds stats only; method keeps it coarse
			dec := lim.TryAcquire(identity, r.Method+" "+guardPrefix)

			if !dec.Allowed {
				if onLimited != nil {
					onLimited(string(dec.Scope))
				}
				if dec.RetryAfter > 0 {
					secs := int(dec.RetryAfter/time.Second) + 1
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				writeError(w, http.StatusTooManyRequests, "rate_limited", dec.Reason)
				return
			}

			if onAllowed != nil {
				onAllowed()
			}
			next.ServeHTTP(w, r)
		})
	}
}
