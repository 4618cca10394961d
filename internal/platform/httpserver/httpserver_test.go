package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pipay/internal/platform/config"
)

func TestNew(t *testing.T) {
	h := http.NotFoundHandler()

	srv := New(config.Server{Addr: ":5050", RequestTimeout: 30 * time.Second}, h)
	assert.Equal(t, ":5050", srv.Addr)
	assert.Equal(t, 35*time.Second, srv.WriteTimeout)
	assert.Equal(t, readHeaderTimeout, srv.ReadHeaderTimeout)

	srv = New(config.Server{Addr: ":1"}, h)
	assert.Equal(t, fallbackWrite, srv.WriteTimeout)
}
