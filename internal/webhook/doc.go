// Package webhook implements the relay's HTTP surface: the Crypto Pay
// webhook endpoint with HMAC-SHA256 verification, the operator status page,
// and the health/metrics/deliveries endpoints.
//
// # Security Model
//
// - HMAC-SHA256 signatures verified using crypto/subtle (constant-time comparison)
// - Body size limits enforced before any parsing
// - No signature details leaked in error responses (always generic 403)
// - Request logging excludes payload bodies
// - Secrets loaded from environment variables (never hardcoded)
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured webhook path
//  2. Body size checked (reject with 413 if too large)
//  3. Signature header extracted and verified (reject with 403 on mismatch)
//  4. Update JSON parsed and validated (reject with 400 if malformed)
//  5. Chat ID extracted from the invoice custom payload; if absent the
//     update is acknowledged with 200 anyway so Crypto Pay does not retry
//  6. Delivery enqueued with the dedupe mark in one transaction
//     (duplicate update_id → 200, no enqueue; failed enqueue → 500 and no
//     dedupe mark, so the re-delivery is accepted)
//
// Crypto Pay treats any non-200 as a delivery failure and re-sends the
// update, so business-level problems (missing chat id) are acknowledged and
// only transport-level problems (bad signature, malformed JSON) are refused.
package webhook
