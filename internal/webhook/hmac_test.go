package webhook

import (
	"testing"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"update_id":1,"update_type":"invoice_paid"}`)

	expectedSig := computeSignature(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{
			name:      "valid signature",
			body:      body,
			signature: expectedSig,
			secret:    secret,
			wantErr:   false,
		},
		{
			name:      "invalid signature - wrong signature",
			body:      body,
			signature: "0000000000000000000000000000000000000000000000000000000000000000",
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "invalid signature - tampered body",
			body:      []byte(`{"update_id":2,"update_type":"invoice_paid"}`),
			signature: expectedSig,
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "invalid signature - wrong secret",
			body:      body,
			signature: expectedSig,
			secret:    "wrong-secret",
			wantErr:   true,
		},
		{
			name:      "invalid signature - empty signature",
			body:      body,
			signature: "",
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "invalid signature - empty secret",
			body:      body,
			signature: expectedSig,
			secret:    "",
			wantErr:   true,
		},
		{
			name:      "invalid signature - malformed hex",
			body:      body,
			signature: "not-valid-hex",
			secret:    secret,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifyHMACSignature() error = %v, wantErr %v", err, tt.wantErr)
			}

			// All errors should be generic (no information leakage)
			if err != nil && err.Error() != "webhook verification failed" {
				t.Errorf("error should be generic, got: %v", err)
			}
		})
	}
}

func TestComputeSignature(t *testing.T) {
	body := []byte("test payload")
	secret := "test-secret"

	sig := computeSignature(body, secret)

	// Should return lowercase hex string
	if len(sig) != 64 { // SHA256 = 32 bytes = 64 hex chars
		t.Errorf("signature length = %d, want 64", len(sig))
	}

	// Should be deterministic
	sig2 := computeSignature(body, secret)
	if sig != sig2 {
		t.Error("signature should be deterministic")
	}

	// Different body should produce different signature
	sig3 := computeSignature([]byte("different"), secret)
	if sig == sig3 {
		t.Error("different body should produce different signature")
	}
}
