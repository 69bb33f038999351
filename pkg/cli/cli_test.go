package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/catalog/pkg/config"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
	"github.com/platinummonkey/catalog/pkg/storage/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "memory://")
	t.Setenv("TRACING_ENABLED", "false")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "0")
	t.Setenv("SLOW_ENDPOINT_DELAY", "0.01")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "catalog", root.Use)

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "init-db", "probe"}, names)
}

func TestNewApplication_MemoryStore(t *testing.T) {
	cfg := memoryConfig(t)
	logs := &syncBuffer{}

	app, err := newApplication(context.Background(), cfg, newLogger(cfg, logs))
	require.NoError(t, err)
	defer app.close(context.Background())

	w := httptest.NewRecorder()
	app.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var products []storage.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	assert.Len(t, products, 10)

	// Single products are immutable: the second read is served by the
	// in-process cache tier
	for i := 0; i < 2; i++ {
		app.server.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/1", nil))
	}
	hits, _ := app.metrics.Value(observability.MetricCacheRequests,
		observability.Labels{"tier": postgres.TierMemory, "result": postgres.ResultHit})
	assert.Equal(t, 1.0, hits)

	w = httptest.NewRecorder()
	app.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewApplication_RedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Cache.RedisURL = "redis://" + mr.Addr()

	app, err := newApplication(context.Background(), cfg, newLogger(cfg, &syncBuffer{}))
	require.NoError(t, err)
	defer app.close(context.Background())

	status := app.health.Check(context.Background(), nil)
	assert.Equal(t, observability.StatusUp, status.Status)
	require.Contains(t, status.Components, observability.ComponentCache)
	assert.Equal(t, observability.StateConnected, status.Components[observability.ComponentCache].State)

	app.server.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/1", nil))
	assert.True(t, mr.Exists("product:1"))
}

func TestNewApplication_RedisUnavailable(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Cache.RedisURL = "redis://127.0.0.1:1"
	logs := &syncBuffer{}

	app, err := newApplication(context.Background(), cfg, newLogger(cfg, logs))
	require.NoError(t, err)
	defer app.close(context.Background())

	assert.Contains(t, logs.String(), "Redis unavailable")
	status := app.health.Check(context.Background(), nil)
	assert.Equal(t, observability.StatusUp, status.Status)
	assert.NotContains(t, status.Components, observability.ComponentCache)
}

func TestNewApplication_InvalidCollectorSchedule(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Observability.PoolCollectorSchedule = "not a schedule"

	_, err := newApplication(context.Background(), cfg, newLogger(cfg, &syncBuffer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool collector schedule")
}

func TestRunServe(t *testing.T) {
	cfg := memoryConfig(t)
	logs := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cfg, logs, ready)
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	out := logs.String()
	assert.Contains(t, out, "Application initialized")
	assert.Contains(t, out, `"database":"memory"`)
	assert.Contains(t, out, "Graceful shutdown complete")
}

func TestRunProbe(t *testing.T) {
	cfg := memoryConfig(t)
	app, err := newApplication(context.Background(), cfg, newLogger(cfg, &syncBuffer{}))
	require.NoError(t, err)
	defer app.close(context.Background())

	srv := httptest.NewServer(app.server)
	defer srv.Close()

	out := &bytes.Buffer{}
	err = runProbe(context.Background(), &probeOptions{backendURL: srv.URL, slow: true, logLevel: "error"}, out, &bytes.Buffer{})
	require.NoError(t, err)

	var report ProbeReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Len(t, report.TraceID, 32)
	assert.Equal(t, observability.StatusUp, report.Health)
	assert.Equal(t, observability.StateConnected, report.Database)
	assert.Equal(t, 10, report.Products)
	assert.Equal(t, "Response after 0.01 seconds of latency", report.Slow)
}

func TestRunProbe_BackendDown(t *testing.T) {
	err := runProbe(context.Background(), &probeOptions{backendURL: "http://127.0.0.1:1", logLevel: "error"},
		&bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestInitDB_SeedsEmptyTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS products`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	for i := range storage.SampleProducts() {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO products`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(i+1, time.Now()))
		mock.ExpectCommit()
	}

	logs := &syncBuffer{}
	logger := observability.NewLogger("backend", observability.InfoLevel, logs)
	require.NoError(t, initDB(context.Background(), postgres.NewStore(db, 5), logger))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, logs.String(), "10 sample products inserted")
}

func TestInitDB_SkipsPopulatedTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS products`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	logs := &syncBuffer{}
	logger := observability.NewLogger("backend", observability.InfoLevel, logs)
	require.NoError(t, initDB(context.Background(), postgres.NewStore(db, 5), logger))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, logs.String(), "already populated")
}
