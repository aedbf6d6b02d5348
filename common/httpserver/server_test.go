package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/common/logger"
)

func TestNew_RequiresAddr(t *testing.T) {
	_, err := New(Config{}, nil, logger.Nop(), nil)
	assert.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	ready := errors.New("not subscribed")
	srv, err := New(Config{Addr: ":0"}, func() error { return ready }, logger.Nop(),
		map[string]http.Handler{
			"/custom": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("custom"))
			}),
		})
	require.NoError(t, err)
	h := srv.Handler()

	cases := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/healthz", http.StatusOK, "OK"},
		{"/readyz", http.StatusServiceUnavailable, "NOT READY: not subscribed"},
		{"/custom", http.StatusOK, "custom"},
		{"/metrics", http.StatusOK, ""},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, c.path, nil))
			assert.Equal(t, c.wantCode, rec.Code)
			if c.wantBody != "" {
				assert.Equal(t, c.wantBody, rec.Body.String())
			}
		})
	}

	ready = nil
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	srv, err := New(Config{Addr: ":0"}, nil, logger.Nop(),
		map[string]http.Handler{
			"/boom": http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		},
		RecoverMiddleware(logger.Nop()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	srv, err := New(Config{Addr: "127.0.0.1:0"}, nil, logger.Nop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
