// Package httpserver builds the kiosk and admin API listener.
package httpserver

import (
	"net/http"
	"time"

	"presence/internal/platform/config"
)

const readHeaderTimeout = 5 * time.Second

// New returns a server for cfg.Addr. Zero timeouts in cfg are left unset,
// which net/http treats as no limit.
func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
