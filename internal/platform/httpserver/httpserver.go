package httpserver

import (
	"net/http"
	"time"

	"pipay/internal/platform/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 2 * time.Minute
	// writeHeadroom lets a handler that hit the request timeout still write
	// its error response.
	writeHeadroom = 5 * time.Second
	// fallbackWrite applies when no request timeout is configured.
	fallbackWrite = 45 * time.Second
)

// New builds the HTTP server for cfg.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := fallbackWrite
	if cfg.RequestTimeout > 0 {
		write = cfg.RequestTimeout + writeHeadroom
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       write,
		WriteTimeout:      write,
		IdleTimeout:       idleTimeout,
	}
}
