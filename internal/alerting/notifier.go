package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EventKind classifies an outbound notification.
type EventKind string

const (
	EventStartup         EventKind = "startup"
	EventDispatch        EventKind = "dispatch"
	EventDispatchOutcome EventKind = "dispatch_outcome"
	EventCleared         EventKind = "cleared"
	EventDiscovery       EventKind = "discovery"
	EventDegraded        EventKind = "degraded"
	EventReply           EventKind = "reply"
)

// Event carries the context of one lifecycle or alert message.
type Event struct {
	Kind          EventKind
	Account       string
	SimulatedRisk decimal.Decimal
	HealthFactor  decimal.Decimal
	TxHash        string
	Message       string
	At            time.Time
}

// Notifier delivers outbound events. Implementations must never feed failures
// back into scheduling; the engine logs and moves on.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API with a rendered event.
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderEvent(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", string(event.Kind)).Str("account", event.Account).Msg("notification sent")
	return nil
}

func renderEvent(event Event) string {
	builder := strings.Builder{}
	switch event.Kind {
	case EventReply:
		return event.Message
	case EventStartup:
		builder.WriteString("[keeper] online\n")
	case EventDispatch:
		builder.WriteString("[keeper] LIQUIDATION DISPATCHED\n")
	case EventDispatchOutcome:
		builder.WriteString("[keeper] dispatch outcome\n")
	case EventCleared:
		builder.WriteString("[keeper] false positive cleared\n")
	case EventDiscovery:
		builder.WriteString("[keeper] discovery\n")
	case EventDegraded:
		builder.WriteString("[keeper] degraded\n")
	default:
		builder.WriteString("[keeper]\n")
	}

	if event.Account != "" {
		builder.WriteString(fmt.Sprintf("Account: %s\n", event.Account))
	}
	if !event.SimulatedRisk.IsZero() {
		builder.WriteString(fmt.Sprintf("Simulated risk: %s\n", event.SimulatedRisk.StringFixed(4)))
	}
	if !event.HealthFactor.IsZero() {
		builder.WriteString(fmt.Sprintf("Health factor: %s\n", event.HealthFactor.StringFixed(4)))
	}
	if event.TxHash != "" {
		builder.WriteString(fmt.Sprintf("Tx: %s\n", event.TxHash))
	}
	if event.Message != "" {
		builder.WriteString(event.Message)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
