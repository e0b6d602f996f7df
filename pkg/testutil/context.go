package testutil

import (
	"net/http"
	"time"

	"presence/pkg/requestcontext"
)

// WithActor adds an authenticated caller to the request context.
// This simulates what the auth middleware does for authenticated requests.
func WithActor(req *http.Request, actor, role string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor, role))
}

// WithKiosk authenticates the request as a kiosk device.
func WithKiosk(req *http.Request) *http.Request {
	return WithActor(req, "kiosk-lobby-1", "kiosk")
}

// WithAdmin authenticates the request as an administrator.
func WithAdmin(req *http.Request) *http.Request {
	return WithActor(req, "admin-1", "admin")
}

// WithTime pins the request-scoped "now".
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
