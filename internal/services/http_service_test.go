package services

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPService_Lifecycle(t *testing.T) {
	// Setup
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	h := NewHTTPService("127.0.0.1:0", handler, time.Second, time.Second, time.Second, zerolog.Nop())

	// Execute
	require.NoError(t, h.Start())

	// Assert
	err := h.Start()
	assert.EqualError(t, err, "http service is already running")

	resp, err := http.Get("http://" + h.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, h.Stop())
	assert.EqualError(t, h.Stop(), "http service is not running")

	_, err = http.Get("http://" + h.Addr() + "/")
	assert.Error(t, err)
}

func TestHTTPService_BindFailure(t *testing.T) {
	first := NewHTTPService("127.0.0.1:0", http.NotFoundHandler(), time.Second, time.Second, time.Second, zerolog.Nop())
	require.NoError(t, first.Start())
	defer first.Stop()

	second := NewHTTPService(first.Addr(), http.NotFoundHandler(), time.Second, time.Second, time.Second, zerolog.Nop())

	assert.Error(t, second.Start())
	assert.Error(t, second.Stop())
}
