package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"candlefeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSink_RetriesThenPosts(t *testing.T) {
	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "42", srv.URL+"/")
	sink.RetryInitial = time.Millisecond
	candles := make([]market.Candle, 0, 7)
	for i := 0; i < 7; i++ {
		candles = append(candles, candle(i, 1, 2))
	}
	require.NoError(t, sink.Deliver(context.Background(), Batch{Key: key, Mode: ModeBackfill, Candles: candles}))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "42", got["chat_id"])
	text, _ := got["text"].(string)
	assert.Contains(t, text, "BACKFILL binance:BTCUSDT@1m (7 candles)")
	assert.Equal(t, 5, strings.Count(text, "\n- "))
	assert.Contains(t, text, "bar: 2024-01-01 00:06:00 UTC")
}

func TestTelegramSink_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "42", srv.URL)
	sink.RetryInitial = time.Millisecond
	err := sink.SendText(context.Background(), "hi")
	assert.ErrorContains(t, err, "telegram status=500")
	assert.Equal(t, int32(telegramRetries), calls.Load())
}

func TestTelegramSink_MissingCredentials(t *testing.T) {
	err := NewTelegramSink("", "", "").SendText(context.Background(), "hi")
	assert.Error(t, err)
}

func TestStructuredMessage_RenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Title:    "LIVE x",
		Sections: []MessageSection{{Title: "empty", Lines: []string{" "}}, {Title: "s", Lines: []string{"a```b"}}},
	}
	out := msg.RenderMarkdown()
	assert.Equal(t, "*LIVE x*\n\n```\ns\n- a'''b\n```", out)
	assert.Equal(t, "", StructuredMessage{}.RenderMarkdown())
}
