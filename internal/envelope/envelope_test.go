package envelope

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/flowdesk/syncd/pkg/crypto"
)

func TestEncryptDecrypt_RoundTrip_SingleLayer(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateChaChaKey()
	if err != nil {
		t.Fatalf("GenerateChaChaKey: %v", err)
	}
	plaintext := []byte(`{"theme":"dark"}`)

	env, err := Encrypt(ctx, plaintext, nil, key, Options{}, 1, "device-a", time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(ctx, env, nil, key, Options{})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncryptDecrypt_RoundTrip_CompressAndDoubleEncrypt(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateChaChaKey()
	if err != nil {
		t.Fatalf("GenerateChaChaKey: %v", err)
	}
	deviceKeys, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	opts := Options{CompressBeforeEncryption: true, DoubleEncryption: true}
	plaintext := bytes.Repeat([]byte("configuration payload "), 200)

	env, err := Encrypt(ctx, plaintext, &deviceKeys.PublicKey, key, opts, 3, "device-a", time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if env.KeyVersion != 3 {
		t.Errorf("expected key_version 3, got %d", env.KeyVersion)
	}

	got, err := Decrypt(ctx, env, deviceKeys, key, opts)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("round trip with compression and double encryption mismatch")
	}
}

func TestDecrypt_DetectsTamperedData(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateChaChaKey()
	env, err := Encrypt(ctx, []byte("secret"), nil, key, Options{}, 1, "device-a", time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	env.Data[0] ^= 0xFF

	if _, err := Decrypt(ctx, env, nil, key, Options{}); err == nil {
		t.Fatal("expected tampered envelope to fail integrity check")
	}
}

func TestDecrypt_WrongWorkspaceKeyFails(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateChaChaKey()
	otherKey, _ := crypto.GenerateChaChaKey()
	env, err := Encrypt(ctx, []byte("secret"), nil, key, Options{}, 1, "device-a", time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(ctx, env, nil, otherKey, Options{}); err == nil {
		t.Fatal("expected decryption under the wrong workspace key to fail")
	}
}

func TestEncrypt_IntegrityHashMatchesCiphertext(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateChaChaKey()
	env, err := Encrypt(ctx, []byte("hello"), nil, key, Options{}, 1, "device-a", time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if env.IntegrityHash != crypto.HashToHex(env.Data) {
		t.Error("integrity_hash does not match sha256(data)")
	}
}

func TestEncrypt_DoubleEncryptionWithoutDeviceKeyFails(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateChaChaKey()
	_, err := Encrypt(ctx, []byte("hello"), nil, key, Options{DoubleEncryption: true}, 1, "device-a", time.Now())
	if err == nil {
		t.Fatal("expected error when double encryption requested without a device public key")
	}
}
