// Package gate enforces route protection from two session-derived
// flags mirrored into cookies. The routing filter never sees the live
// session object; it decides synchronously from the last mirrored
// flags, which makes a brief stale window after sign-in or sign-out
// an accepted cost.
package gate

import (
	"net/http"
	"net/url"
	"strings"

	"verse/api/internal/identity"
)

// Cookie names for the request-visible flag channel.
const (
	AuthCookie     = "auth-flag"
	VerifiedCookie = "verified-flag"
)

const cookieMaxAge = 30 * 24 * 60 * 60

// SignInPath is where the filter sends rejected requests, with a
// reason parameter of "auth" or "verify".
const SignInPath = "/login"

var protectedPrefixes = []string{"/create", "/profile", "/dashboard"}

// Flags derives the two gate booleans from a session. verified is
// true when the sign-in method is not password-based or the email has
// been confirmed.
func Flags(session *identity.Session) (authenticated, verified bool) {
	if session == nil {
		return false, false
	}
	return true, session.SignInMethod != identity.MethodPassword || session.EmailVerified
}

// Mirror writes the current flags into cookies, or clears both on a
// nil session. Must be called on every session-change observation.
func Mirror(w http.ResponseWriter, session *identity.Session) {
	authenticated, verified := Flags(session)
	if !authenticated {
		clearCookie(w, AuthCookie)
		clearCookie(w, VerifiedCookie)
		return
	}
	setCookie(w, AuthCookie, "1")
	value := "0"
	if verified {
		value = "1"
	}
	setCookie(w, VerifiedCookie, value)
}

func setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}

// IsProtected reports whether a path falls under the protected prefix
// set, on segment boundaries.
func IsProtected(path string) bool {
	for _, prefix := range protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func redirectToSignIn(w http.ResponseWriter, r *http.Request, reason string) {
	target := SignInPath + "?reason=" + url.QueryEscape(reason)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Middleware is the routing filter. It runs before any page logic and
// has no side effect beyond the redirect decision: protected paths
// require auth-flag=1 (reason=auth otherwise) then verified-flag=1
// (reason=verify otherwise); unprotected paths always pass through
// unmodified.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsProtected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(AuthCookie); err != nil || cookie.Value != "1" {
			redirectToSignIn(w, r, "auth")
			return
		}
		if cookie, err := r.Cookie(VerifiedCookie); err != nil || cookie.Value != "1" {
			redirectToSignIn(w, r, "verify")
			return
		}

		next.ServeHTTP(w, r)
	})
}
