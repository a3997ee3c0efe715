package httpcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	appLogger "github.com/fastygo/hms-gateway/pkg/logger"
)

func TestAttachCarriesRequestMetadata(t *testing.T) {
	var reqCtx fasthttp.RequestCtx
	reqCtx.Request.Header.Set(HeaderRequestID, "abc-123")
	reqCtx.Request.Header.SetUserAgent("ward-terminal/1.0")

	ctx, cancel := NewAdapter(time.Second).Attach(&reqCtx)
	defer cancel()

	assert.Equal(t, "abc-123", appLogger.RequestIDFromContext(ctx))
	assert.Equal(t, "ward-terminal/1.0", UserAgent(ctx))
	assert.Equal(t, "abc-123", string(reqCtx.Response.Header.Peek(HeaderRequestID)))

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 200*time.Millisecond)
}

func TestRequestIDIsGeneratedOnce(t *testing.T) {
	var reqCtx fasthttp.RequestCtx

	first := RequestID(&reqCtx)
	second := RequestID(&reqCtx)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestNewAdapterDefaultsTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, NewAdapter(0).timeout)
}

func TestAttachFollowsBaseCancellation(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	adapter := NewAdapter(time.Minute).WithBase(base)

	var reqCtx fasthttp.RequestCtx
	ctx, cancel := adapter.Attach(&reqCtx)
	defer cancel()

	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("attached context was not cancelled with its base")
	}
}
