package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// ErrAllEndpointsExhausted signals that every configured endpoint failed for a
// single logical query. Callers must treat it as transient and retry on their
// next scheduling opportunity, not as fatal.
var ErrAllEndpointsExhausted = errors.New("rpc: all endpoints exhausted")

// ErrNoEndpoints signals an empty pool, a configuration error.
var ErrNoEndpoints = errors.New("rpc: no endpoints configured")

// Task is a single logical read executed against whichever endpoint the pool
// selects. The same task may run more than once, against different endpoints.
type Task func(ctx context.Context, endpoint *Endpoint) error

// Options parameterise the pool.
type Options struct {
	URLs []string
	// Strict aborts the rotation on the first non-transient error instead of
	// trying the remaining endpoints.
	Strict bool
}

// Endpoint is one configured query provider: an opaque address plus its
// ordinal position in the pool. Immutable after construction; the underlying
// client is dialed lazily on first use.
type Endpoint struct {
	url     string
	ordinal int

	dialMu sync.Mutex
	client *ethclient.Client
}

// URL returns the endpoint address.
func (e *Endpoint) URL() string { return e.url }

// Ordinal returns the endpoint's position in the pool. Position zero is the
// primary endpoint used for write-class calls.
func (e *Endpoint) Ordinal() int { return e.ordinal }

// Client returns the dialed eth client, dialing on first use.
func (e *Endpoint) Client(ctx context.Context) (*ethclient.Client, error) {
	e.dialMu.Lock()
	defer e.dialMu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := ethclient.DialContext(ctx, e.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.url, err)
	}
	e.client = client
	return client, nil
}

// Pool rotates a single logical query across multiple endpoints until one of
// them answers. Rotation advances on success too, spreading load; it is the
// only load-shedding mechanism, no backoff is injected here.
type Pool struct {
	endpoints []*Endpoint
	cursor    atomic.Uint32
	strict    bool
	logger    zerolog.Logger
}

// NewPool builds a pool over the configured endpoint URLs, first URL primary.
func NewPool(opts Options, logger zerolog.Logger) (*Pool, error) {
	if len(opts.URLs) == 0 {
		return nil, ErrNoEndpoints
	}

	endpoints := make([]*Endpoint, 0, len(opts.URLs))
	for i, url := range opts.URLs {
		endpoints = append(endpoints, &Endpoint{url: url, ordinal: i})
	}

	return &Pool{
		endpoints: endpoints,
		strict:    opts.Strict,
		logger:    logger.With().Str("component", "rpc_pool").Logger(),
	}, nil
}

// Size reports the number of configured endpoints.
func (p *Pool) Size() int { return len(p.endpoints) }

// Primary returns endpoint zero, used for write-class calls and head
// subscriptions.
func (p *Pool) Primary() *Endpoint { return p.endpoints[0] }

// Cursor reports the current rotation position, always in range.
func (p *Pool) Cursor() int {
	return int(p.cursor.Load()) % len(p.endpoints)
}

// Execute runs task against endpoints in rotation until one succeeds. The
// cursor race between concurrent callers is benign: two calls may share an
// endpoint or skip one, which only perturbs load balancing.
func (p *Pool) Execute(ctx context.Context, task Task) error {
	var lastErr error

	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := int(p.cursor.Add(1)-1) % len(p.endpoints)
		endpoint := p.endpoints[idx]

		err := task(ctx, endpoint)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) && p.strict {
			return err
		}
		p.logger.Debug().Err(err).Int("endpoint", idx).Msg("endpoint query failed, rotating")
	}

	return fmt.Errorf("%w: %w", ErrAllEndpointsExhausted, lastErr)
}

// IsTransient reports whether an error is a rate-limit or temporary
// availability failure that rotation should absorb.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"429",
	"timeout",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"eof",
}
