package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_probes_total", Help: "Probes by classification.",
	}, []string{"class"})
	mLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_probe_latency_seconds",
		Help:    "Probe latency when measurable.",
		Buckets: prometheus.DefBuckets,
	})
)

type Config struct {
	UserAgent    string
	MaxBodyBytes int64
}

// Doer is the part of *http.Client the executor needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor performs one bounded HTTP probe. It never returns an error: every
// failure is classified into the Outcome.
type Executor struct {
	log    *zap.Logger
	client Doer
	cfg    Config
	now    func() time.Time
}

func NewExecutor(log *zap.Logger, client Doer, cfg Config) *Executor {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Executor{log: obs.Component(log, "probe"), client: client, cfg: cfg, now: time.Now}
}

// Execute probes e.URL with a deadline equal to the endpoint interval.
func (x *Executor) Execute(ctx context.Context, e *endpoint.Endpoint) metric.Outcome {
	out := x.execute(ctx, e)
	mProbes.WithLabelValues(string(out.Class)).Inc()
	if out.LatencyMS != nil {
		mLatency.Observe(float64(*out.LatencyMS) / 1000)
	}
	if !out.Reachable() {
		obs.WithTrace(ctx, x.log).Debug("probe failed",
			zap.String("endpoint_id", e.ID.String()),
			zap.String("class", string(out.Class)),
			zap.Stringp("error", out.Error))
	}
	return out
}

func (x *Executor) execute(ctx context.Context, e *endpoint.Endpoint) metric.Outcome {
	timeout := e.Interval
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, NormalizeURL(e.URL), nil)
	if err != nil {
		return failed(metric.UnexpectedError, fmt.Sprintf("unexpected error: %v", err), nil)
	}
	if x.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", x.cfg.UserAgent)
	}

	start := x.now()
	resp, err := x.client.Do(req)
	if err != nil {
		lat := sinceMS(x.now, start)
		return classify(err, timeout, lat)
	}
	// drain a little so keep-alive connections get reused
	_, _ = io.CopyN(io.Discard, resp.Body, x.cfg.MaxBodyBytes)
	_ = resp.Body.Close()
	lat := sinceMS(x.now, start)

	code := resp.StatusCode
	if code != http.StatusOK {
		out := failed(metric.UnreachableStatus, fmt.Sprintf("unexpected status code: %d", code), lat)
		out.StatusCode = &code
		return out
	}
	return metric.Outcome{Class: metric.Reachable, StatusCode: &code, LatencyMS: lat}
}

func classify(err error, timeout time.Duration, lat *int64) metric.Outcome {
	switch {
	case isTimeout(err):
		return failed(metric.Timeout, fmt.Sprintf("timeout after %s", timeout), lat)
	case isConnectError(err):
		return failed(metric.ConnectError, fmt.Sprintf("connection error: %v", unwrapURLError(err)), lat)
	default:
		return failed(metric.UnexpectedError, fmt.Sprintf("unexpected error: %v", unwrapURLError(err)), lat)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnectError covers everything that prevents a response from being
// read off an established exchange: DNS, dial, refused/reset, TLS handshake.
func isConnectError(err error) bool {
	var (
		dnsErr  *net.DNSError
		opErr   *net.OpError
		certErr *tls.CertificateVerificationError
		hostErr x509.HostnameError
		authErr x509.UnknownAuthorityError
		recErr  tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		return true
	case errors.As(err, &certErr), errors.As(err, &hostErr), errors.As(err, &authErr), errors.As(err, &recErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF):
		return true
	}
	return false
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

func failed(class metric.Classification, msg string, lat *int64) metric.Outcome {
	return metric.Outcome{Class: class, Error: &msg, LatencyMS: lat}
}

func sinceMS(now func() time.Time, start time.Time) *int64 {
	ms := now().Sub(start).Milliseconds()
	return &ms
}

// NormalizeURL trims the URL and defaults the scheme to http.
func NormalizeURL(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return t
	}
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return t
	}
	return "http://" + t
}
