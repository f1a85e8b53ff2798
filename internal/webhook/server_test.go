package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
)

// mockQueue is a mock implementation of DeliveryQueuer for testing.
type mockQueue struct {
	enqueueOnceFn func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error)
	recentFn      func(ctx context.Context, limit int) ([]queue.LogEntry, error)
}

func (m *mockQueue) EnqueueOnce(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
	if m.enqueueOnceFn != nil {
		return m.enqueueOnceFn(ctx, req)
	}
	return "test-delivery-id", true, nil
}

func (m *mockQueue) Depth(ctx context.Context) (int, error) { return 0, nil }

func (m *mockQueue) Stats(ctx context.Context) (queue.Stats, error) { return queue.Stats{}, nil }

func (m *mockQueue) Recent(ctx context.Context, limit int) ([]queue.LogEntry, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, limit)
	}
	return nil, nil
}

func testConfig(secret string) Config {
	return Config{
		Listen:          "127.0.0.1:0",
		Version:         "1.0.0",
		Path:            "/webhook/crypto_pay",
		Secret:          secret,
		SignatureHeader: "Crypto-Pay-Api-Signature",
		MaxBodySize:     1048576,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func validUpdateBody() []byte {
	return []byte(`{
		"update_id": 42,
		"update_type": "invoice_paid",
		"request_date": "2024-05-01T12:00:00Z",
		"payload": {
			"invoice_id": 528,
			"status": "paid",
			"amount": "10.5",
			"asset": "USDT",
			"payload": "user_id:123456789"
		}
	}`)
}

func TestHandleWebhookValidSignature(t *testing.T) {
	secret := "test-secret"
	body := validUpdateBody()
	signature := computeSignature(body, secret)

	mq := &mockQueue{
		enqueueOnceFn: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			if req.UpdateID != 42 {
				t.Errorf("UpdateID = %d, want 42", req.UpdateID)
			}
			if req.ChatID != 123456789 {
				t.Errorf("ChatID = %d, want 123456789", req.ChatID)
			}
			if req.UpdateType != "invoice_paid" {
				t.Errorf("UpdateType = %q, want invoice_paid", req.UpdateType)
			}
			return "delivery-123", true, nil
		},
	}

	server := New(testConfig(secret), mq, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(body))
	req.Header.Set("Crypto-Pay-Api-Signature", signature)
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp RelayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Message != "Webhook processed" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	body := validUpdateBody()

	mq := &mockQueue{
		enqueueOnceFn: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			t.Fatal("nothing should be enqueued with an invalid signature")
			return "", false, nil
		},
	}

	server := New(testConfig("test-secret"), mq, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(body))
	req.Header.Set("Crypto-Pay-Api-Signature", "0000000000000000000000000000000000000000000000000000000000000000")
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	// Error should be generic (no details leaked)
	if resp.Error != "forbidden" {
		t.Errorf("Error = %v, want generic 'forbidden'", resp.Error)
	}
}

func TestHandleWebhookMissingSignature(t *testing.T) {
	server := New(testConfig("test-secret"), &mockQueue{}, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(validUpdateBody()))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandleWebhookAllowUnsigned(t *testing.T) {
	cfg := testConfig("")
	cfg.AllowUnsigned = true

	server := New(cfg, &mockQueue{}, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(validUpdateBody()))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleWebhookMalformedJSON(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{{{not json`)
	signature := computeSignature(body, secret)

	server := New(testConfig(secret), &mockQueue{}, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(body))
	req.Header.Set("Crypto-Pay-Api-Signature", signature)
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebhookDuplicateUpdate(t *testing.T) {
	secret := "test-secret"
	body := validUpdateBody()
	signature := computeSignature(body, secret)

	mq := &mockQueue{
		enqueueOnceFn: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			if req.UpdateID != 42 {
				t.Errorf("UpdateID = %d, want 42", req.UpdateID)
			}
			return "", false, nil
		},
	}

	server := New(testConfig(secret), mq, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(body))
	req.Header.Set("Crypto-Pay-Api-Signature", signature)
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp RelayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.Contains(resp.Message, "duplicate") {
		t.Errorf("message = %q, want duplicate notice", resp.Message)
	}
}

func TestHandleWebhookMissingChatID(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{
		"update_id": 43,
		"update_type": "invoice_paid",
		"payload": {"invoice_id": 529, "status": "paid"}
	}`)
	signature := computeSignature(body, secret)

	mq := &mockQueue{
		enqueueOnceFn: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			t.Fatal("update without chat_id must not be enqueued")
			return "", false, nil
		},
	}

	server := New(testConfig(secret), mq, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(body))
	req.Header.Set("Crypto-Pay-Api-Signature", signature)
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	// 200 so Crypto Pay does not retry, but status=error in the body
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp RelayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("Status = %q, want error", resp.Status)
	}
	if !strings.Contains(resp.Message, "chat_id not found") {
		t.Errorf("Message = %q", resp.Message)
	}
}

func TestHandleWebhookEnqueueFailureAllowsRedelivery(t *testing.T) {
	secret := "test-secret"
	body := validUpdateBody()
	signature := computeSignature(body, secret)

	// Fake with the queue's transactional semantics: the dedupe mark only
	// survives a successful enqueue.
	var enqueued int
	processed := map[int64]bool{}
	failuresLeft := 1
	mq := &mockQueue{
		enqueueOnceFn: func(ctx context.Context, req queue.EnqueueRequest) (string, bool, error) {
			if failuresLeft > 0 {
				failuresLeft--
				return "", false, errors.New("enqueue delivery: database is locked")
			}
			if processed[req.UpdateID] {
				return "", false, nil
			}
			processed[req.UpdateID] = true
			enqueued++
			return "delivery-retry", true, nil
		},
	}

	server := New(testConfig(secret), mq, testLogger())

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(body))
		req.Header.Set("Crypto-Pay-Api-Signature", signature)
		rec := httptest.NewRecorder()
		server.handleWebhook(rec, req)
		return rec
	}

	if rec := post(); rec.Code != http.StatusInternalServerError {
		t.Fatalf("first delivery: status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if enqueued != 0 {
		t.Fatalf("enqueued = %d after failed attempt, want 0", enqueued)
	}

	// Crypto Pay re-delivers after the 500; the update must go through now,
	// not be swallowed as a duplicate.
	rec := post()
	if rec.Code != http.StatusOK {
		t.Fatalf("re-delivery: status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp RelayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "Webhook processed" {
		t.Errorf("re-delivery message = %q, want %q", resp.Message, "Webhook processed")
	}
	if enqueued != 1 {
		t.Errorf("enqueued = %d, want 1", enqueued)
	}
}

func TestHandleWebhookPayloadTooLarge(t *testing.T) {
	cfg := testConfig("test-secret")
	cfg.MaxBodySize = 16

	server := New(cfg, &mockQueue{}, testLogger())

	req := httptest.NewRequest("POST", "/webhook/crypto_pay", bytes.NewReader(validUpdateBody()))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleIndexListsEndpoints(t *testing.T) {
	server := New(testConfig("test-secret"), &mockQueue{}, testLogger())

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	server.handleIndex(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}

	out := rec.Body.String()
	for _, want := range []string{"1.0.0", "/webhook/crypto_pay", "/healthz", "/metrics", "/deliveries"} {
		if !strings.Contains(out, want) {
			t.Errorf("status page missing %q", want)
		}
	}
}

func TestHandleHealthz(t *testing.T) {
	server := New(testConfig("test-secret"), &mockQueue{}, testLogger())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	server.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestHandleDeliveriesEmpty(t *testing.T) {
	server := New(testConfig("test-secret"), &mockQueue{}, testLogger())

	req := httptest.NewRequest("GET", "/deliveries", nil)
	rec := httptest.NewRecorder()

	server.handleDeliveries(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	// Empty list, not null
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestRouterRejectsUnknownPath(t *testing.T) {
	server := New(testConfig("test-secret"), &mockQueue{}, testLogger())
	router := server.setupRoutes()

	req := httptest.NewRequest("POST", "/webhook/unknown", bytes.NewReader(validUpdateBody()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404/405", rec.Code)
	}
}
