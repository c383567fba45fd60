package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// recvWindow is the request validity window in milliseconds required by the
// X-BAPI-RECV-WINDOW header.
const recvWindow = "5000"

// sign computes the v5 request signature: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload, hex-encoded. The payload is the
// raw query string for GET requests and the JSON body for POST requests.
func sign(secret, timestamp, apiKey, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// setAuthHeaders attaches the X-BAPI-* authentication headers to a request.
func setAuthHeaders(req *http.Request, apiKey, timestamp, signature string) {
	req.Header.Set("X-BAPI-API-KEY", apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
}
