package httpserver_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumispace/billing/pkg/httpserver"
)

func TestRunShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "context cancellation is a clean shutdown")
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
