package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	paused  bool
	resumed bool
}

func (h *recordingHandler) Status(ctx context.Context) StatusReport {
	return StatusReport{Watchlist: 1500, Cooldowns: 3, LastBlock: 19000000, Price: decimal.NewFromInt(2000), Dispatched: 2}
}

func (h *recordingHandler) Pause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

func (h *recordingHandler) Resume() {
	h.mu.Lock()
	h.resumed = true
	h.mu.Unlock()
}

func (h *recordingHandler) isPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *captureNotifier) Notify(ctx context.Context, event Event) error {
	n.mu.Lock()
	n.messages = append(n.messages, renderEvent(event))
	n.mu.Unlock()
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func (n *captureNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

func pollerWith(handler CommandHandler, notifier Notifier, chatID string) *CommandPoller {
	return &CommandPoller{chatID: chatID, notifier: notifier, handler: handler, logger: zerolog.Nop()}
}

func makeUpdate(chatID int64, text string) update {
	var u update
	u.Message.Text = text
	u.Message.Chat.ID = chatID
	return u
}

func TestHandleStatusRepliesWithReport(t *testing.T) {
	handler := &recordingHandler{}
	notifier := &captureNotifier{}
	p := pollerWith(handler, notifier, "42")

	p.handle(context.Background(), makeUpdate(42, "/status"))

	require.Len(t, notifier.messages, 1)
	require.Contains(t, notifier.messages[0], "Watch-list: 1500")
	require.Contains(t, notifier.messages[0], "Dispatched: 2")
}

func TestHandlePauseResume(t *testing.T) {
	handler := &recordingHandler{}
	notifier := &captureNotifier{}
	p := pollerWith(handler, notifier, "")

	p.handle(context.Background(), makeUpdate(1, "/pause"))
	require.True(t, handler.paused)

	p.handle(context.Background(), makeUpdate(1, "/resume"))
	require.True(t, handler.resumed)
	require.Len(t, notifier.messages, 2)
}

func TestHandleStripsBotSuffix(t *testing.T) {
	handler := &recordingHandler{}
	notifier := &captureNotifier{}
	p := pollerWith(handler, notifier, "")

	p.handle(context.Background(), makeUpdate(1, "/pause@keeper_bot"))
	require.True(t, handler.paused)
}

func TestHandleFiltersForeignChats(t *testing.T) {
	handler := &recordingHandler{}
	notifier := &captureNotifier{}
	p := pollerWith(handler, notifier, "42")

	p.handle(context.Background(), makeUpdate(99, "/pause"))
	require.False(t, handler.paused)
	require.Empty(t, notifier.messages)
}

func telegramUpdate(id, chatID int64, text string) map[string]any {
	return map[string]any{
		"update_id": id,
		"message": map[string]any{
			"text": text,
			"chat": map[string]any{"id": chatID},
		},
	}
}

func TestRunDiscardsBacklogBeforeActing(t *testing.T) {
	handler := &recordingHandler{}
	notifier := &captureNotifier{}

	// Offset 8 is served twice: once empty to end the drain, then with a
	// fresh /status for the live loop.
	var offset8Calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/getUpdates"))

		var result []map[string]any
		switch r.URL.Query().Get("offset") {
		case "":
			result = []map[string]any{telegramUpdate(7, 1, "/pause")}
		case "8":
			if offset8Calls.Add(1) > 1 {
				result = []map[string]any{telegramUpdate(8, 1, "/status")}
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result}))
	}))
	defer srv.Close()

	p := NewCommandPoller("token123", "1", srv.URL, 50*time.Millisecond, notifier, handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return notifier.count() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.False(t, handler.isPaused(), "a /pause queued while the keeper was down must not gate the engine")
	require.Contains(t, notifier.last(), "Watch-list: 1500")
}

func TestHandleIgnoresUnknownCommands(t *testing.T) {
	handler := &recordingHandler{}
	notifier := &captureNotifier{}
	p := pollerWith(handler, notifier, "")

	p.handle(context.Background(), makeUpdate(1, "/selfdestruct"))
	require.Empty(t, notifier.messages)
	require.False(t, handler.paused)
	require.False(t, handler.resumed)
}
