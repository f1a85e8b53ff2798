// Package cryptopay models incoming Crypto Pay webhook updates and builds
// the user-facing notification text for them.
package cryptopay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Update types sent by Crypto Pay.
const (
	UpdateInvoicePaid = "invoice_paid"
)

// Invoice statuses.
const (
	StatusActive  = "active"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// Invoice is the payload of a Crypto Pay update. Monetary values arrive as
// strings and are relayed verbatim.
type Invoice struct {
	InvoiceID    int64  `json:"invoice_id"`
	Status       string `json:"status"`
	Amount       string `json:"amount,omitempty"`
	Asset        string `json:"asset,omitempty"`
	Fee          string `json:"fee,omitempty"`
	FiatAmount   string `json:"fiat_amount,omitempty"`
	FiatCurrency string `json:"fiat_currency,omitempty"`
	Description  string `json:"description,omitempty"`

	// CustomPayload is the free-form "payload" field attached by the bot
	// when the invoice was created. By convention it carries the chat to
	// notify as "user_id:<chat_id>".
	CustomPayload string `json:"payload,omitempty"`
}

// Update is a Crypto Pay webhook envelope.
type Update struct {
	UpdateID    int64   `json:"update_id"`
	UpdateType  string  `json:"update_type"`
	RequestDate string  `json:"request_date"`
	Payload     Invoice `json:"payload"`
}

// ParseUpdate decodes and validates a webhook body.
func ParseUpdate(body []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	if u.UpdateID <= 0 {
		return nil, fmt.Errorf("update_id is missing")
	}
	if u.UpdateType == "" {
		return nil, fmt.Errorf("update_type is missing")
	}
	if u.Payload.InvoiceID <= 0 {
		return nil, fmt.Errorf("payload.invoice_id is missing")
	}
	if u.Payload.Status == "" {
		return nil, fmt.Errorf("payload.status is missing")
	}
	return &u, nil
}

// ChatIDFromPayload extracts the Telegram chat ID from an invoice custom
// payload using the "user_id:<chat_id>" convention.
func ChatIDFromPayload(customPayload string) (int64, error) {
	if customPayload == "" {
		return 0, fmt.Errorf("custom payload is empty")
	}

	marker := "user_id:"
	idx := strings.LastIndex(customPayload, marker)
	if idx < 0 {
		return 0, fmt.Errorf("custom payload %q has no user_id marker", customPayload)
	}

	raw := strings.TrimSpace(customPayload[idx+len(marker):])
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id from %q: %w", customPayload, err)
	}
	if chatID == 0 {
		return 0, fmt.Errorf("chat id is zero in %q", customPayload)
	}
	return chatID, nil
}
