// Package alerting delivers cash-flow risk alerts to operators.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification carries a risk alert for one business.
type Notification struct {
	BusinessID   int64
	BusinessName string
	Day          time.Time
	Level        string
	RiskScore    int
	ForecastAvg  float64
	NegativeDays int
	Messages     []string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier. An empty base URL uses the public API.
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

// Notify calls sendMessage with the rendered alert.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return errors.New("telegram returned ok=false")
	}

	n.logger.Info().
		Int64("business_id", note.BusinessID).
		Str("level", note.Level).
		Int("risk_score", note.RiskScore).
		Msg("risk alert sent (telegram)")
	return nil
}

// LogNotifier writes alerts to the log; used when no delivery channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Int64("business_id", note.BusinessID).
		Str("level", note.Level).
		Int("risk_score", note.RiskScore).
		Strs("messages", note.Messages).
		Msg("risk alert")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("[SmartPesa Cash-Flow Alert]\n")
	name := note.BusinessName
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(&b, "Business: %s (#%d)\n", name, note.BusinessID)
	fmt.Fprintf(&b, "Day: %s\n", note.Day.UTC().Format(time.DateOnly))
	fmt.Fprintf(&b, "Risk: %s (score %d)\n", note.Level, note.RiskScore)
	fmt.Fprintf(&b, "30-day avg net: %.2f\n", note.ForecastAvg)
	fmt.Fprintf(&b, "Negative days: %d\n", note.NegativeDays)
	for _, msg := range note.Messages {
		fmt.Fprintf(&b, "- %s\n", msg)
	}
	return b.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
