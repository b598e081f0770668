package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

func fakeBotAPI(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient("test-token", srv.URL, 100, zap.NewNop())
}

func TestSendMessageSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	_, c := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	if err := c.SendMessage(context.Background(), "1001", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "1001" || gotBody["text"] != "hello" {
		t.Fatalf("payload = %v", gotBody)
	}
	if gotBody["parse_mode"] != "HTML" {
		t.Fatalf("parse_mode = %v", gotBody["parse_mode"])
	}
}

func TestSendMessageClampsLongText(t *testing.T) {
	var gotLen int
	_, c := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotLen = utf8.RuneCountInString(body["text"].(string))
		w.Write([]byte(`{"ok":true}`))
	})

	long := strings.Repeat("ы", maxMessageLength+500)
	if err := c.SendMessage(context.Background(), "1001", long); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotLen != maxMessageLength {
		t.Fatalf("sent %d runes, want %d", gotLen, maxMessageLength)
	}
}

func TestSendMessageRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	_, c := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"ok":false,"description":"flood control"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	if err := c.SendMessage(context.Background(), "1001", "x"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestSendMessageGivesUpWhenContextEnds(t *testing.T) {
	var calls atomic.Int32
	_, c := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"ok":false,"description":"still broken"}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.SendMessage(ctx, "1001", "x")
	if err == nil {
		t.Fatal("expected an error once the context expired")
	}
	// One attempt ran; the backoff before the second outlived the context.
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestAPIErrorSurfacesDescription(t *testing.T) {
	_, c := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	})

	var resp apiResponse
	err := c.call(context.Background(), "sendMessage", map[string]any{}, &resp)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}
}
