package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/upem-wims/wims-lti/platform/go/requesttrace"
)

// RequestTrace marks every request anonymous until a launch is verified; the launch service
// then upgrades the audit info to the LMS user. Run it after RequestID.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		audit := requesttrace.Anonymous(middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(requesttrace.IntoContext(r.Context(), audit)))
	})
}
