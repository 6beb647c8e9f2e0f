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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotification() Notification {
	return Notification{
		BusinessID:   12,
		BusinessName: "Mama Mboga",
		Day:          time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC),
		Level:        "HIGH",
		RiskScore:    82,
		ForecastAvg:  -150.5,
		NegativeDays: 14,
		Messages:     []string{"High risk: 14 out of 30 forecast days show negative cash flow"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, notifier.Notify(context.Background(), sampleNotification()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "Mama Mboga (#12)")
	assert.Contains(t, received["text"], "Risk: HIGH (score 82)")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.Error(t, notifier.Notify(context.Background(), sampleNotification()))
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL+"/", time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(sampleNotification())
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Day: 2025-06-10", lines[2])
	assert.Equal(t, "30-day avg net: -150.50", lines[4])
	assert.True(t, strings.HasPrefix(lines[6], "- High risk"))

	assert.NoError(t, NewLogNotifier(zerolog.Nop()).Notify(context.Background(), Notification{}))
}
