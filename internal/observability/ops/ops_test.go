package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "spudbot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	var readyErr error
	h := NewRouter(Handlers{
		Ready: func(context.Context) error { return readyErr },
	}, "", false, logx.Nop())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	readyErr = errors.New("no successful poll yet")
	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no successful poll yet")
}

func TestScheduleAndJobs(t *testing.T) {
	h := NewRouter(Handlers{
		Schedule: func(context.Context) (any, error) {
			return map[string]any{"epoch": 5}, nil
		},
		Jobs: func() any { return []string{"netinfo.poll"} },
	}, "", false, logx.Nop())

	rec := get(t, h, "/api/schedule")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5, body["epoch"])

	rec = get(t, h, "/api/jobs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "netinfo.poll")

	assert.Equal(t, http.StatusNotFound, get(t, NewRouter(Handlers{}, "", false, logx.Nop()), "/api/schedule").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(Handlers{}, "", false, logx.Nop())
	_ = get(t, h, "/healthz")
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spudbot_http_requests_total")
}

func TestTokenAuth(t *testing.T) {
	h := NewRouter(Handlers{}, "s3cret", false, logx.Nop())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz?token=nope", "Authorization", "Bearer s3cret").Code)
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(t, NewRouter(Handlers{}, "", false, logx.Nop()), "/debug/pprof/").Code)
	rec := get(t, NewRouter(Handlers{}, "", true, logx.Nop()), "/debug/pprof/cmdline")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecovererReturns500(t *testing.T) {
	h := NewRouter(Handlers{
		Jobs: func() any { panic("boom") },
	}, "", false, logx.Nop())
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/jobs").Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:80":    false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Handlers{}, logx.Nop())
	assert.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
	assert.Empty(t, s.Addr())
}

func TestServiceStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Handlers{}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
	assert.Nil(t, s.Supervisor())
}
