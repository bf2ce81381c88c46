package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mrtnsch/checkboxes/internal/adapter/memory"
	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/broadcast"
	"github.com/mrtnsch/checkboxes/internal/platform/config"
	"github.com/mrtnsch/checkboxes/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	store     *memory.BitmapStore
	registry  *broadcast.Registry
	wsMetrics *metrics.WebSocketMetrics
	clock     clockwork.Clock
}

type testOption func(*config.Config, *Dependencies)

func withConfig(mutate func(*config.Config)) testOption {
	return func(cfg *config.Config, _ *Dependencies) { mutate(cfg) }
}

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *config.Config, deps *Dependencies) { deps.HealthChecks = checks }
}

func withClock(clock clockwork.Clock) testOption {
	return func(_ *config.Config, deps *Dependencies) { deps.Clock = clock }
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		StoreBackend:            config.BackendMemory,
		NumCheckboxes:           8,
		StaticDir:               t.TempDir(),
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionRatePerIP:     1000,
		ConnectionRateBurst:     1000,
		OutboundBufferSize:      16,
		StoreTimeout:            time.Second,
	}
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()

	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	deps := Dependencies{
		MetricsHandler:   metrics.Handler(reg),
		WebSocketMetrics: wsMetrics,
		HTTPMetrics:      metrics.NewHTTPMetrics(reg),
		Clock:            clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	store := memory.NewBitmapStore(cfg.NumCheckboxes)
	registry := broadcast.NewRegistry(cfg.OutboundBufferSize, wsMetrics)
	deps.Store = store
	deps.Sessions = session.NewHandler(registry, store, clockwork.NewRealClock(), cfg.StoreTimeout, wsMetrics, nil)

	return &testServer{
		Server:    NewServer(cfg, deps),
		store:     store,
		registry:  registry,
		wsMetrics: wsMetrics,
		clock:     deps.Clock,
	}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// listen serves s over a real listener, for websocket tests.
func (s *testServer) listen(t *testing.T) string {
	t.Helper()
	httpServer := httptest.NewServer(s)
	t.Cleanup(httpServer.Close)
	return "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) (*ws.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := ws.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	if resp != nil && resp.Body != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return conn, resp, err
}

func mustDial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := dial(t, url, nil)
	require.NoError(t, err)
	return conn
}
