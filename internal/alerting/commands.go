package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StatusReport is the engine's answer to an inbound /status command.
type StatusReport struct {
	Watchlist  int
	Cooldowns  int
	LastBlock  uint64
	Price      decimal.Decimal
	Paused     bool
	Dispatched int64
}

// CommandHandler is implemented by the trigger engine. Pause and resume gate
// only the tick handler; the rest of the system keeps running.
type CommandHandler interface {
	Status(ctx context.Context) StatusReport
	Pause()
	Resume()
}

// CommandPoller long-polls the Telegram getUpdates API for inbound commands
// (/status, /pause, /resume) and relays them to the handler.
type CommandPoller struct {
	botToken    string
	chatID      string
	baseURL     string
	pollTimeout time.Duration
	client      *http.Client
	notifier    Notifier
	handler     CommandHandler
	logger      zerolog.Logger
}

// NewCommandPoller constructs the inbound command listener.
func NewCommandPoller(botToken, chatID, baseURL string, pollTimeout time.Duration, notifier Notifier, handler CommandHandler, logger zerolog.Logger) *CommandPoller {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &CommandPoller{
		botToken:    botToken,
		chatID:      chatID,
		baseURL:     strings.TrimRight(baseURL, "/"),
		pollTimeout: pollTimeout,
		client:      &http.Client{Timeout: pollTimeout + 10*time.Second},
		notifier:    notifier,
		handler:     handler,
		logger:      logger.With().Str("component", "command_poller").Logger(),
	}
}

// Run blocks until ctx is cancelled, polling for updates. Poll failures are
// logged and retried after a short pause.
func (p *CommandPoller) Run(ctx context.Context) {
	offset, err := p.drainBacklog(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Msg("backlog drain failed")
	}

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.fetchUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			p.handle(ctx, update)
		}
	}
}

// drainBacklog advances the update offset past anything queued while the
// keeper was down. A stale /pause sent to a stopped keeper must not gate the
// engine on boot. Returns the offset the live poll loop should start from.
func (p *CommandPoller) drainBacklog(ctx context.Context) (int64, error) {
	var offset int64
	skipped := 0
	for {
		updates, err := p.fetchUpdates(ctx, offset, 0)
		if err != nil {
			return offset, err
		}
		if len(updates) == 0 {
			break
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
		}
		skipped += len(updates)
	}
	if skipped > 0 {
		p.logger.Info().Int("updates", skipped).Msg("discarded command backlog from downtime")
	}
	return offset, nil
}

func (p *CommandPoller) fetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]update, error) {
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", p.baseURL, p.botToken, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getUpdates status %d", resp.StatusCode)
	}

	var decoded struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("getUpdates returned ok=false")
	}
	return decoded.Result, nil
}

func (p *CommandPoller) handle(ctx context.Context, u update) {
	text := strings.TrimSpace(u.Message.Text)
	if text == "" {
		return
	}
	if p.chatID != "" && strconv.FormatInt(u.Message.Chat.ID, 10) != p.chatID {
		return
	}

	command := strings.ToLower(strings.SplitN(text, " ", 2)[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	switch command {
	case "/status":
		report := p.handler.Status(ctx)
		p.reply(ctx, renderStatus(report))
	case "/pause":
		p.handler.Pause()
		p.reply(ctx, "[keeper] paused: tick handler gated")
	case "/resume":
		p.handler.Resume()
		p.reply(ctx, "[keeper] resumed")
	default:
		p.logger.Debug().Str("text", text).Msg("ignoring unknown command")
	}
}

func (p *CommandPoller) reply(ctx context.Context, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, Event{Kind: EventReply, Message: message, At: time.Now().UTC()}); err != nil {
		p.logger.Warn().Err(err).Msg("command reply failed")
	}
}

func renderStatus(report StatusReport) string {
	state := "running"
	if report.Paused {
		state = "paused"
	}
	return fmt.Sprintf(
		"[keeper] %s\nWatch-list: %d\nCooldowns: %d\nLast block: %d\nPrice: %s\nDispatched: %d",
		state, report.Watchlist, report.Cooldowns, report.LastBlock, report.Price.StringFixed(2), report.Dispatched,
	)
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}
