package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), Options{ServiceName: "qabatch"})
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "qabatch.item")
	span.End()
	assert.False(t, span.SpanContext().IsValid())

	counter, err := p.Meter().Int64Counter("qabatch.items.persisted")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupExportsOnShutdown(t *testing.T) {
	var (
		mu    sync.Mutex
		paths = map[string]int{}
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	ctx := context.Background()
	p, err := Setup(ctx, Options{
		Endpoint:       collector.URL,
		ServiceName:    "qabatch",
		Version:        "test",
		ExportInterval: time.Hour,
		Attributes:     map[string]string{"qabatch.model": "gpt-4o"},
	})
	require.NoError(t, err)

	_, span := p.Tracer().Start(ctx, "qabatch.batch")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	counter, err := p.Meter().Int64Counter("qabatch.items.persisted")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, paths["/v1/traces"])
	assert.Equal(t, 1, paths["/v1/metrics"])
}
