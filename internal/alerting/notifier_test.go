package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifySendsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token123", "42", srv.URL, time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), Event{
		Kind:          EventDispatch,
		Account:       "0xaa",
		SimulatedRisk: decimal.NewFromFloat(0.95),
		HealthFactor:  decimal.NewFromFloat(0.98),
		TxHash:        "0xdead",
		At:            time.Now().UTC(),
	})
	require.NoError(t, err)

	require.Equal(t, "/bottoken123/sendMessage", gotPath)
	require.Equal(t, "42", gotBody["chat_id"])
	require.Contains(t, gotBody["text"], "LIQUIDATION DISPATCHED")
	require.Contains(t, gotBody["text"], "0xaa")
	require.Contains(t, gotBody["text"], "0xdead")
}

func TestTelegramNotifyRejectsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", srv.URL, time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), Event{Kind: EventStartup})
	require.Error(t, err)
}

func TestRenderEvent(t *testing.T) {
	text := renderEvent(Event{
		Kind:          EventCleared,
		Account:       "0xaa",
		SimulatedRisk: decimal.NewFromFloat(1.0123),
		HealthFactor:  decimal.NewFromFloat(1.0456),
	})
	require.True(t, strings.HasPrefix(text, "[keeper] false positive cleared"))
	require.Contains(t, text, "Simulated risk: 1.0123")
	require.Contains(t, text, "Health factor: 1.0456")

	// Replies pass through verbatim, without any prefix.
	reply := renderEvent(Event{Kind: EventReply, Message: "pong"})
	require.Equal(t, "pong", reply)
}
