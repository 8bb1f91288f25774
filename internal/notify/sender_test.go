package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSender_SendsFormEncodedHTML(t *testing.T) {
	var gotPath string
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("bot-token", "chat-42")
	s.api = srv.URL

	err := s.Send(context.Background(), "Order failed", "amount < 1 & pool drained")
	require.NoError(t, err)

	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", gotForm.Get("chat_id"))
	assert.Equal(t, "HTML", gotForm.Get("parse_mode"))
	assert.Equal(t, "<b>Order failed</b>\namount &lt; 1 &amp; pool drained", gotForm.Get("text"))
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat")
	s.api = srv.URL

	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestDiscordSender_SendsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "Instance stopped", "strategy done")
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Instance stopped", got.Embeds[0].Title)
	assert.Equal(t, "strategy done", got.Embeds[0].Description)
	assert.Equal(t, discordAlertColor, got.Embeds[0].Color)
	assert.NotEmpty(t, got.Embeds[0].Timestamp)
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
