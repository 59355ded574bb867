package importexport

import (
	"testing"
	"time"

	"github.com/flowdesk/syncd/pkg/crypto"
)

func TestPairingQRData_RoundTrip(t *testing.T) {
	keys, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	qr, err := GeneratePairingQRData("device-a", "Alice's MacBook", "macos", keys.PublicKey, now)
	if err != nil {
		t.Fatalf("GeneratePairingQRData: %v", err)
	}

	info, err := ParsePairingQRData(qr)
	if err != nil {
		t.Fatalf("ParsePairingQRData: %v", err)
	}
	if info.DeviceID != "device-a" {
		t.Errorf("expected device_id device-a, got %s", info.DeviceID)
	}
	if info.PublicKey != keys.PublicKey {
		t.Error("public_key mismatch after round trip")
	}
}

func TestParsePairingQRData_RejectsWrongType(t *testing.T) {
	if _, err := ParsePairingQRData(`{"type":"something_else"}`); err == nil {
		t.Fatal("expected rejection of non-flowdesk_pairing type")
	}
}

func TestParsePairingQRData_RejectsShortPublicKey(t *testing.T) {
	qr := `{"type":"flowdesk_pairing","device_id":"d","device_name":"n","public_key":"AAAA"}`
	if _, err := ParsePairingQRData(qr); err == nil {
		t.Fatal("expected rejection of a public_key that does not decode to 32 bytes")
	}
}

func TestParsePairingQRData_TolerateWhitespace(t *testing.T) {
	keys, _ := crypto.GenerateX25519KeyPair()
	qr, err := GeneratePairingQRData("device-a", "name", "ios", keys.PublicKey, time.Now())
	if err != nil {
		t.Fatalf("GeneratePairingQRData: %v", err)
	}

	if _, err := ParsePairingQRData("  \n" + qr + "\n  "); err != nil {
		t.Fatalf("expected surrounding whitespace to be tolerated: %v", err)
	}
}
