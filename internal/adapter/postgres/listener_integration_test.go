package postgres

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDatabaseURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("marketpulse"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	testDatabaseURL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestListener_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewBridgeMetrics(prometheus.NewRegistry())
	pool, err := Connect(ctx, testDatabaseURL, m)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	pub := &recordingPublisher{}
	listener := NewListener(pool, "market events", pub, m)
	require.NoError(t, listener.Ping(ctx))

	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	// Notifications sent before LISTEN is active are lost; keep notifying
	// until one arrives.
	require.Eventually(t, func() bool {
		if err := Notify(ctx, pool, "market events", "market", "AAPL", []byte(`{"price":187.5}`)); err != nil {
			return false
		}
		return len(pub.snapshot()) > 0
	}, 10*time.Second, 50*time.Millisecond)

	ev := pub.snapshot()[0]
	assert.Equal(t, "market", ev.Channel)
	assert.Equal(t, "AAPL", ev.Topic)
	assert.JSONEq(t, `{"price":187.5}`, string(ev.Payload))
	assert.Positive(t, testutil.CollectAndCount(m.DBQueryDuration), "statements should be traced")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}
