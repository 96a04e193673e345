package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
)

// TelegramConnector resolves challenges through the Telegram Bot API: it
// posts the prompt with an approve/deny inline keyboard to every configured
// chat, then polls updates until the deadline. Only callbacks from the
// approver set arriving in an allowed chat count; empty sets reject
// everything.
type TelegramConnector struct {
	cfg     config.TelegramConnectorConfig
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

// NewTelegramConnector builds the connector.
func NewTelegramConnector(cfg config.TelegramConnectorConfig, logger *slog.Logger) *TelegramConnector {
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &TelegramConnector{
		cfg:     cfg,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "approval.TelegramConnector"),
	}
}

// Name implements Connector.
func (c *TelegramConnector) Name() event.Channel { return event.ChannelTelegram }

// Resolve implements Connector.
func (c *TelegramConnector) Resolve(ctx context.Context, approvalID string, ch *event.Challenge, ev *event.Event) Resolution {
	if c.cfg.Transport != "" && c.cfg.Transport != "polling" {
		return Resolution{Outcome: OutcomeError,
			Reason: fmt.Sprintf("transport %q not supported, use polling", c.cfg.Transport)}
	}

	deadline := time.Now().Add(time.Duration(ch.TimeoutSeconds) * time.Second)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	prompt := fmt.Sprintf("%s\n\nsession: %s  tool: %s", ch.Prompt, ev.SessionID, ev.ToolName())
	if err := c.sendPrompt(ctx, approvalID, prompt); err != nil {
		return Resolution{Outcome: OutcomeError, Reason: err.Error()}
	}

	return c.pollForAnswer(ctx, approvalID, deadline)
}

// sendPrompt posts the inline-keyboard message to every configured chat.
func (c *TelegramConnector) sendPrompt(ctx context.Context, approvalID, prompt string) error {
	keyboard := map[string]interface{}{
		"inline_keyboard": [][]map[string]string{{
			{"text": "✅ Approve", "callback_data": "ag:approve:" + approvalID},
			{"text": "⛔ Deny", "callback_data": "ag:deny:" + approvalID},
		}},
	}

	var lastErr error
	sent := 0
	for _, chatID := range c.cfg.ChatIDs {
		payload := map[string]interface{}{
			"chat_id":      chatID,
			"text":         prompt,
			"reply_markup": keyboard,
		}
		if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		if lastErr != nil {
			return fmt.Errorf("failed to deliver prompt: %w", lastErr)
		}
		return fmt.Errorf("no chat ids configured")
	}
	return nil
}

// telegramUpdate is the subset of the getUpdates envelope we consume.
type telegramUpdate struct {
	UpdateID      int64 `json:"update_id"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Message struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// pollForAnswer long-polls getUpdates with a monotonically advancing offset
// until a matching, authorized callback arrives or the deadline passes.
func (c *TelegramConnector) pollForAnswer(ctx context.Context, approvalID string, deadline time.Time) Resolution {
	interval := time.Duration(c.cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	approvers := int64Set(c.cfg.Approvers)
	chats := int64Set(c.cfg.ChatIDs)

	var offset int64
	for {
		if time.Now().After(deadline) {
			return Resolution{Outcome: OutcomeTimeout}
		}

		var result struct {
			OK     bool             `json:"ok"`
			Result []telegramUpdate `json:"result"`
		}
		payload := map[string]interface{}{"offset": offset, "timeout": 1}
		if err := c.call(ctx, "getUpdates", payload, &result); err != nil {
			if ctx.Err() != nil {
				return Resolution{Outcome: OutcomeTimeout}
			}
			return Resolution{Outcome: OutcomeError, Reason: err.Error()}
		}

		for _, upd := range result.Result {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			cq := upd.CallbackQuery
			if cq == nil {
				continue
			}

			var verdict string
			switch cq.Data {
			case "ag:approve:" + approvalID:
				verdict = "approve"
			case "ag:deny:" + approvalID:
				verdict = "deny"
			default:
				continue
			}

			if !approvers[cq.From.ID] || !chats[cq.Message.Chat.ID] {
				c.logger.Warn("unauthorized approval callback ignored",
					"from", cq.From.ID, "chat", cq.Message.Chat.ID)
				continue
			}

			// Best-effort acknowledgement; the verdict stands regardless.
			_ = c.call(ctx, "answerCallbackQuery", map[string]interface{}{
				"callback_query_id": cq.ID,
			}, nil)

			if verdict == "approve" {
				return Resolution{Outcome: OutcomeApproved}
			}
			return Resolution{Outcome: OutcomeDenied, Reason: "denied via telegram"}
		}

		select {
		case <-ctx.Done():
			return Resolution{Outcome: OutcomeTimeout}
		case <-time.After(interval):
		}
	}
}

// call POSTs one Bot API method and decodes the standard {ok, result}
// envelope into out when non-nil.
func (c *TelegramConnector) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(c.apiBase, "/"), c.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram %s returned %d", method, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("malformed telegram response: %w", err)
		}
	}
	return nil
}

func int64Set(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
