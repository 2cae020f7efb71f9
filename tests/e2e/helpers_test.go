//go:build e2e

package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/bloodlink-backend/internal/app"
	"github.com/heartmarshall/bloodlink-backend/internal/config"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/transport/middleware"
	"github.com/heartmarshall/bloodlink-backend/internal/transport/rest"
)

// testLogWriter routes slog output through t.Log.
type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

type testServer struct {
	URL    string
	Client *http.Client
	Pool   *pgxpool.Pool
	App    *app.Services
}

func testConfig() *config.Config {
	return &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET,POST,PUT,OPTIONS", AllowedHeaders: "Content-Type,X-Actor-Id", MaxAge: 60},
		Matching: config.MatchingConfig{
			DefaultRadiusKm:   25,
			MaxRadiusKm:       200,
			MatchHold:         2 * time.Hour,
			MaxCandidates:     50,
			PoolLimit:         1000,
			DistanceTimeout:   time.Second,
			LookupConcurrency: 4,
			PriorityOrder:     domain.PriorityOrderAsc,
		},
		Inventory: config.InventoryConfig{ReservationHold: 4 * time.Hour, CandidateLimit: 50, AllocateRounds: 3},
		Request:   config.RequestConfig{MaxQuantity: 50, SweepBatch: 200},
		Routing:   config.RoutingConfig{Provider: "haversine"},
		Notify:    config.NotifyConfig{Kind: "log"},
		Sweeper:   config.SweeperConfig{Interval: time.Minute},
	}
}

// setupTestServer wires the real application against the shared
// testcontainers database and serves it with httptest.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	pool := testhelper.SetupTestDB(t)
	testhelper.SeedRules(t, pool)

	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, nil))
	cfg := testConfig()

	svc, err := app.Build(context.Background(), cfg, logger, pool)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) }) //nolint:errcheck

	handler := rest.NewRouter(rest.RouterDeps{
		Log:       logger,
		CORS:      cfg.CORS,
		Health:    rest.NewHealthHandler("test-version", rest.Check{Name: "database", Pinger: pool}),
		Requests:  rest.NewRequestHandler(svc.Requests, logger),
		Donors:    rest.NewDonorHandler(svc.Donors, logger),
		Inventory: rest.NewInventoryHandler(svc.Inventory, logger),
		Metrics:   promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{URL: srv.URL, Client: srv.Client(), Pool: pool, App: svc}
}

// call sends a JSON request as actor (0 = anonymous) and decodes the
// response body into out when out is non-nil.
func (ts *testServer) call(t *testing.T, method, path string, actor int64, body, out any) int {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor > 0 {
		req.Header.Set(middleware.ActorHeader, fmt.Sprint(actor))
	}

	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}
