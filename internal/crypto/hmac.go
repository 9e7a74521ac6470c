package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against
// exchange REST APIs. Public market-data endpoints do not need it; signed
// endpoints (higher rate-limit tiers, account data) do.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, raw bytes
}

// BinanceSign returns the hex HMAC-SHA256 signature Binance expects over
// the request query string (including the timestamp parameter). Attach the
// API key via the X-MBX-APIKEY header and append the signature as the
// "signature" query parameter.
func (h *HMACAuth) BinanceSign(query string) string {
	return hmacSHA256Hex([]byte(h.Secret), query)
}

// BinanceHeaders returns the HTTP headers for a signed Binance request.
func (h *HMACAuth) BinanceHeaders() map[string]string {
	return map[string]string{"X-MBX-APIKEY": h.Key}
}

// BybitHeaders returns the HTTP headers for a Bybit v5 signed request. The
// signature covers timestamp + api_key + recv_window + payload, where the
// payload is the query string for GET and the JSON body for POST.
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (h *HMACAuth) BybitHeaders(payload string, recvWindowMs int) map[string]string {
	return h.BybitHeadersAt(payload, recvWindowMs, time.Now().UnixMilli())
}

// BybitHeadersAt is like BybitHeaders but lets the caller supply the
// millisecond timestamp (useful for deterministic testing).
func (h *HMACAuth) BybitHeadersAt(payload string, recvWindowMs int, unixMs int64) map[string]string {
	ts := strconv.FormatInt(unixMs, 10)
	window := strconv.Itoa(recvWindowMs)

	message := ts + h.Key + window + payload
	sig := hmacSHA256Hex([]byte(h.Secret), message)

	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": window,
		"X-BAPI-SIGN":        sig,
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
