package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"consentkit/pkg/requestcontext"
)

// ClientIDCookieName identifies a visitor across page loads for server-side stores.
const ClientIDCookieName = "jbweb_client_id"

const clientIDMaxAge = 2 * 365 * 24 * 60 * 60

// ClientID reads the visitor's client ID cookie, issuing a fresh UUID when it is
// missing or not a UUID, and stores it in the request context.
func ClientID(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if c, err := r.Cookie(ClientIDCookieName); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					clientID = id.String()
				}
			}
			if clientID == "" {
				clientID = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientIDCookieName,
					Value:    clientID,
					Path:     "/",
					MaxAge:   clientIDMaxAge,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := requestcontext.WithClientID(r.Context(), clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
