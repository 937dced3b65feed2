package bot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// replayWindow bounds how old a signed webhook delivery may be.
const replayWindow = 5 * time.Minute

// VerifySignature verifies the platform webhook signature. The platform
// signs `v1:<timestamp>:<body>` with HMAC-SHA256 over the shared secret
// and sends it as `v1=<hex>`.
func VerifySignature(r *http.Request, body []byte, secret string) bool {
	timestamp := r.Header.Get("X-Platform-Timestamp")
	signature := r.Header.Get("X-Platform-Signature")

	if timestamp == "" || signature == "" {
		return false
	}

	// Reject stale deliveries to prevent replay.
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix()-ts > int64(replayWindow.Seconds()) {
		return false
	}

	sigBase := fmt.Sprintf("v1:%s:%s", timestamp, string(body))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sigBase))
	expectedSig := "v1=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
