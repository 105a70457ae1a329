package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewPoolRequiresEndpoints(t *testing.T) {
	if _, err := NewPool(Options{}, noopLogger()); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestExecuteFailsOverToHealthyEndpoint(t *testing.T) {
	pool, err := NewPool(Options{URLs: []string{"http://a", "http://b", "http://c"}}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	var served int
	err = pool.Execute(context.Background(), func(ctx context.Context, ep *Endpoint) error {
		if ep.Ordinal() < 2 {
			return errors.New("connection refused")
		}
		served = ep.Ordinal()
		return nil
	})
	if err != nil {
		t.Fatalf("expected failover success, got %v", err)
	}
	if served != 2 {
		t.Fatalf("expected endpoint 2 to serve, got %d", served)
	}
}

func TestExecuteRotatesOnSuccess(t *testing.T) {
	pool, err := NewPool(Options{URLs: []string{"http://a", "http://b"}}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	var order []int
	for i := 0; i < 4; i++ {
		_ = pool.Execute(context.Background(), func(ctx context.Context, ep *Endpoint) error {
			order = append(order, ep.Ordinal())
			return nil
		})
	}

	want := []int{0, 1, 0, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("round-robin order mismatch: got %v want %v", order, want)
		}
	}
}

func TestExecuteAllEndpointsExhausted(t *testing.T) {
	pool, err := NewPool(Options{URLs: []string{"http://a", "http://b", "http://c"}}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	attempts := 0
	err = pool.Execute(context.Background(), func(ctx context.Context, ep *Endpoint) error {
		attempts++
		return fmt.Errorf("boom %d", ep.Ordinal())
	})
	if !errors.Is(err, ErrAllEndpointsExhausted) {
		t.Fatalf("expected ErrAllEndpointsExhausted, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if cursor := pool.Cursor(); cursor < 0 || cursor >= pool.Size() {
		t.Fatalf("cursor out of range after exhaustion: %d", cursor)
	}
}

func TestExecuteStrictAbortsOnNonTransient(t *testing.T) {
	pool, err := NewPool(Options{URLs: []string{"http://a", "http://b"}, Strict: true}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	fatal := errors.New("execution reverted")
	attempts := 0
	err = pool.Execute(context.Background(), func(ctx context.Context, ep *Endpoint) error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error surfaced, got %v", err)
	}
	if errors.Is(err, ErrAllEndpointsExhausted) {
		t.Fatal("strict abort should not report exhaustion")
	}
	if attempts != 1 {
		t.Fatalf("strict policy should stop after first attempt, got %d", attempts)
	}
}

func TestExecuteStrictContinuesOnRateLimit(t *testing.T) {
	pool, err := NewPool(Options{URLs: []string{"http://a", "http://b"}, Strict: true}, noopLogger())
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	err = pool.Execute(context.Background(), func(ctx context.Context, ep *Endpoint) error {
		calls++
		if calls == 1 {
			return gethrpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("rate limited endpoint should be rotated past: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gethrpc.HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{gethrpc.HTTPError{StatusCode: http.StatusServiceUnavailable}, true},
		{gethrpc.HTTPError{StatusCode: http.StatusUnauthorized}, false},
		{context.DeadlineExceeded, true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("execution reverted"), false},
		{&net.DNSError{IsTimeout: true}, true},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
