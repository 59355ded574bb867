package crypto

import (
	"bytes"
	"testing"
)

func TestSealedBox_RoundTrip(t *testing.T) {
	recipient, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	plaintext := []byte("sync secrets payload")
	ciphertext, err := EncryptSealedBox(plaintext, recipient.PublicKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	decrypted, err := DecryptSealedBox(ciphertext, recipient)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("round-trip produced different plaintext")
	}
}

func TestSealedBox_WrongRecipientFails(t *testing.T) {
	recipient, _ := GenerateX25519KeyPair()
	other, _ := GenerateX25519KeyPair()

	ciphertext, err := EncryptSealedBox([]byte("secret"), recipient.PublicKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := DecryptSealedBox(ciphertext, other); err == nil {
		t.Fatal("expected decryption to fail for wrong recipient key")
	}
}

func TestChaCha20Poly1305_RoundTrip(t *testing.T) {
	key, err := GenerateChaChaKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	aad := []byte(`{"device_id":"a","timestamp":"2026-01-01T00:00:00Z"}`)
	plaintext := []byte(`{"theme":"dark"}`)

	ciphertext, err := EncryptChaCha20Poly1305(plaintext, key, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	decrypted, err := DecryptChaCha20Poly1305(ciphertext, key, aad)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("round-trip produced different plaintext")
	}
}

func TestChaCha20Poly1305_TamperDetected(t *testing.T) {
	key, _ := GenerateChaChaKey()
	aad := []byte("aad")
	ciphertext, err := EncryptChaCha20Poly1305([]byte("plaintext"), key, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ciphertext[len(ciphertext)-1] ^= 0x01

	if _, err := DecryptChaCha20Poly1305(ciphertext, key, aad); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestChaCha20Poly1305_WrongAADFails(t *testing.T) {
	key, _ := GenerateChaChaKey()
	ciphertext, err := EncryptChaCha20Poly1305([]byte("plaintext"), key, []byte("aad-one"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := DecryptChaCha20Poly1305(ciphertext, key, []byte("aad-two")); err == nil {
		t.Fatal("expected authentication failure on mismatched aad")
	}
}

func TestHashToHex_Length(t *testing.T) {
	hex := HashToHex([]byte("data"))
	if len(hex) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hex))
	}
}

func TestBase64_RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xff, 0xfe}
	encoded := EncodeBase64(data)
	decoded, err := DecodeBase64(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("base64 round-trip mismatch")
	}
}

func TestGenerateID_Unique(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	if a == b {
		t.Error("expected distinct ids")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars (128 bits), got %d", len(a))
	}
}
