package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BillingSignatureHeader carries the billing provider's timestamped HMAC:
// "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<body>'>".
const BillingSignatureHeader = "Billing-Signature"

// billingSignatureTolerance bounds replay of captured signatures.
const billingSignatureTolerance = 5 * time.Minute

// verifyBillingSignature checks the timestamped scheme against the shared
// secret. now is injectable for tests.
func verifyBillingSignature(payload []byte, header, secret string, now time.Time) bool {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return false
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > billingSignatureTolerance || sent.Sub(now) > billingSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// SignBilling produces a valid billing signature header for payload. Used by
// tests and local tooling.
func SignBilling(payload []byte, secret string, now time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", now.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
