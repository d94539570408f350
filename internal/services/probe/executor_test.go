package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newExec() *Executor {
	return NewExecutor(zap.NewNop(), NewHTTPClient(ClientConfig{FollowRedirects: true, VerifyTLS: true}), Config{UserAgent: "sentinel-test"})
}

func ep(url string, interval time.Duration) *endpoint.Endpoint {
	return &endpoint.Endpoint{ID: uuid.New(), URL: url, Interval: interval, Active: true}
}

func TestExecute_Reachable(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	out := newExec().Execute(context.Background(), ep(srv.URL, time.Second))
	assert.Equal(t, metric.Reachable, out.Class)
	assert.True(t, out.Reachable())
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, 200, *out.StatusCode)
	require.NotNil(t, out.LatencyMS)
	assert.Nil(t, out.Error)
	assert.Equal(t, "sentinel-test", ua)
}

func TestExecute_NonOKStatus(t *testing.T) {
	for _, code := range []int{201, 301, 404, 503} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		x := NewExecutor(zap.NewNop(), NewHTTPClient(ClientConfig{FollowRedirects: false}), Config{})
		out := x.Execute(context.Background(), ep(srv.URL, time.Second))
		srv.Close()

		assert.Equal(t, metric.UnreachableStatus, out.Class, "code %d", code)
		assert.False(t, out.Reachable())
		require.NotNil(t, out.StatusCode)
		assert.Equal(t, code, *out.StatusCode)
		require.NotNil(t, out.Error)
		assert.Contains(t, *out.Error, "unexpected status code")
		assert.NotNil(t, out.LatencyMS)
	}
}

func TestExecute_TimeoutUsesInterval(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	out := newExec().Execute(context.Background(), ep(srv.URL, 50*time.Millisecond))
	assert.Equal(t, metric.Timeout, out.Class)
	assert.Nil(t, out.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, "timeout after 50ms", *out.Error)
	require.NotNil(t, out.LatencyMS)
	assert.GreaterOrEqual(t, *out.LatencyMS, int64(40))
}

func TestExecute_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := newExec().Execute(context.Background(), ep(url, time.Second))
	assert.Equal(t, metric.ConnectError, out.Class)
	require.NotNil(t, out.Error)
	assert.Contains(t, *out.Error, "connection error:")
	assert.Nil(t, out.StatusCode)
}

func TestExecute_MalformedURL(t *testing.T) {
	out := newExec().Execute(context.Background(), ep("http://[::1", time.Second))
	assert.Equal(t, metric.UnexpectedError, out.Class)
	require.NotNil(t, out.Error)
	assert.Contains(t, *out.Error, "unexpected error:")
}

type errDoer struct{ err error }

func (d errDoer) Do(*http.Request) (*http.Response, error) { return nil, d.err }

func TestExecute_OtherTransportErrorIsUnexpected(t *testing.T) {
	x := NewExecutor(zap.NewNop(), errDoer{err: errors.New("weird")}, Config{})
	out := x.Execute(context.Background(), ep("example.com", time.Second))
	assert.Equal(t, metric.UnexpectedError, out.Class)
	assert.Equal(t, "unexpected error: weird", *out.Error)
	assert.NotNil(t, out.LatencyMS)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "http://example.com", NormalizeURL(" example.com "))
	assert.Equal(t, "https://example.com/x", NormalizeURL("https://example.com/x"))
	assert.Equal(t, "", NormalizeURL("  "))
}
