package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/config"
	"github.com/JakeFAU/ratemystay/internal/housing"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildInMemory(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Ingest.DormitoryRadius = 1500
	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Handler())
	require.NotNil(t, a.Ingestor())
	require.NotNil(t, a.Catalog())
	require.Nil(t, a.archive)

	searches := a.searches()
	require.Len(t, searches, 3)
	require.Equal(t, housing.CategoryDormitory, searches[0].Category)
	require.Equal(t, 1500, searches[0].RadiusMeters)
	require.Equal(t, 10000, searches[1].RadiusMeters)

	require.Error(t, a.Migrate(context.Background()), "migrate needs a database")
}

func TestBuildLocalArchive(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.LocalDir = t.TempDir()
	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.archive)
}

func TestBuildFailsOnBadDSN(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.DB.DSN = "not a dsn ::"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := Build(context.Background(), defaultConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
