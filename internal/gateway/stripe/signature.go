// Package stripe authenticates and classifies Stripe webhook deliveries.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the maximum allowed skew between the signed timestamp
// and the time of receipt.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature  = errors.New("signature header is required")
	ErrSignatureMismatch = errors.New("signature verification failed")
	ErrMalformedPayload  = errors.New("malformed webhook payload")
)

// VerifySignature checks that rawBody and the signature header were produced
// by the gateway using secret. rawBody must be the exact bytes received; any
// re-serialization invalidates the HMAC.
//
// An absent header fails with ErrMissingSignature before any cryptographic
// work. All other failures (bad format, expired timestamp, HMAC mismatch)
// wrap ErrSignatureMismatch and carry the received signature for audit
// logging, never the secret.
func VerifySignature(rawBody []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %s (header %q)", ErrSignatureMismatch, err, header)
	}

	if tolerance > 0 {
		delta := now.Unix() - timestamp
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Second > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureMismatch)
		}
	}

	expected := ComputeSignature(secret, timestamp, rawBody)
	for _, sig := range signatures {
		if hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			return nil
		}
	}

	return fmt.Errorf("%w (header %q)", ErrSignatureMismatch, header)
}

// VerifyAndParse verifies the signature and decodes the event envelope.
// A parse failure after a valid signature is reported as ErrMalformedPayload,
// distinct from signature errors.
func VerifyAndParse(rawBody []byte, header, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	if err := VerifySignature(rawBody, header, secret, tolerance, now); err != nil {
		return nil, err
	}

	var event Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	return &event, nil
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of "<timestamp>.<body>".
// Exported so tests and outbound tooling can sign payloads.
func ComputeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

// SignatureFor builds a complete signature header value for a payload.
// Used by tests and the operator replay tooling.
func SignatureFor(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(secret, timestamp, body))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64
	signatures := make([]string, 0, 1)

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "t":
			t, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid timestamp %q", value)
			}
			timestamp = t
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == 0 {
		return 0, nil, errors.New("missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, errors.New("no v1 signatures")
	}

	return timestamp, signatures, nil
}
