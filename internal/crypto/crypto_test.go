package crypto

import (
	"strings"
	"testing"
)

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "pw123")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "pw123")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "super-secret-api-key" {
		t.Errorf("decrypted = %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("wrong password must fail")
	}
}

func TestBybitSignatureDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret"}

	a := auth.BybitHeadersAt("symbol=BTCUSDT", 5000, 1700000000000)
	b := auth.BybitHeadersAt("symbol=BTCUSDT", 5000, 1700000000000)
	if a["X-BAPI-SIGN"] != b["X-BAPI-SIGN"] {
		t.Error("signature not deterministic for fixed inputs")
	}
	if a["X-BAPI-TIMESTAMP"] != "1700000000000" || a["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("headers = %v", a)
	}

	c := auth.BybitHeadersAt("symbol=ETHUSDT", 5000, 1700000000000)
	if a["X-BAPI-SIGN"] == c["X-BAPI-SIGN"] {
		t.Error("different payloads produced the same signature")
	}
}

func TestBinanceSign(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret"}
	sig := auth.BinanceSign("symbol=BTCUSDT&timestamp=1700000000000")
	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(sig))
	}
	if sig != strings.ToLower(sig) {
		t.Error("signature must be lowercase hex")
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "0123456789"}
	s := auth.String()
	if strings.Contains(s, "0123456789") || strings.Contains(s, "abcdef") {
		t.Errorf("String leaked credentials: %s", s)
	}
}
