// Package admin guards the inspection endpoints with HTTP Basic credentials.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "pipay/pkg/domain-errors"
	"pipay/pkg/platform/httputil"
	"pipay/pkg/requestcontext"
)

// Credentials are the expected Basic auth pair. Pass may be a bcrypt hash.
type Credentials struct {
	User string
	Pass string
}

func (c Credentials) configured() bool {
	return c.User != "" && c.Pass != ""
}

func (c Credentials) matches(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) == 1
	var passOK bool
	if isBcryptHash(c.Pass) {
		passOK = bcrypt.CompareHashAndPassword([]byte(c.Pass), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(c.Pass)) == 1
	}
	return userOK && passOK
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// RequireBasicAuth rejects requests without valid admin credentials. When no
// credentials are configured every request gets 503.
func RequireBasicAuth(creds Credentials, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !creds.configured() {
				httputil.WriteError(w, dErrors.New(dErrors.CodeServiceUnavailable, "admin auth not configured"))
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || !creds.matches(user, pass) {
				logger.WarnContext(ctx, "admin credentials mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin credentials required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
