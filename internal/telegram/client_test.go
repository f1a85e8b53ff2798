package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotReq sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	c, err := New("123456:test-token", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.SendMessage(context.Background(), 987, "✅ paid"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotPath != "/bot123456:test-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.ChatID != 987 {
		t.Errorf("chat_id = %d, want 987", gotReq.ChatID)
	}
	if gotReq.Text != "✅ paid" {
		t.Errorf("text = %q", gotReq.Text)
	}
	if gotReq.ParseMode != "HTML" {
		t.Errorf("parse_mode = %q, want HTML", gotReq.ParseMode)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	c, err := New("123456:test-token", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.SendMessage(context.Background(), 987, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPermanent(err) {
		t.Errorf("403 should be permanent, got %v", err)
	}
}

func TestSendMessageRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`))
	}))
	defer srv.Close()

	c, err := New("123456:test-token", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.SendMessage(context.Background(), 987, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Errorf("429 should be transient, got %v", err)
	}
}

func TestSendMessageConnectionErrorHidesToken(t *testing.T) {
	c, err := New("123456:secret-token", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.SendMessage(context.Background(), 987, "hello")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if IsPermanent(err) {
		t.Error("connection error should be transient")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks bot token: %v", err)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
