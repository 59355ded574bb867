package crypto

import (
	"context"
	"testing"
	"time"
)

func TestEd25519_SignAndVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kp, err := GenerateEd25519KeyPair("device-a", now)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	signer, err := kp.Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := kp.Verifier()
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	data := []byte("archive bytes")
	record, err := signer.SignWithRecord(context.Background(), data, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := verifier.VerifyRecord(context.Background(), data, record); err != nil {
		t.Fatalf("verify should succeed: %v", err)
	}
}

func TestEd25519_VerifyRejectsTamperedData(t *testing.T) {
	now := time.Now()
	kp, err := GenerateEd25519KeyPair("device-a", now)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	signer, _ := kp.Signer()
	verifier, _ := kp.Verifier()

	data := []byte("archive bytes")
	record, err := signer.SignWithRecord(context.Background(), data, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01

	if err := verifier.VerifyRecord(context.Background(), tampered, record); err == nil {
		t.Fatal("expected verification failure for tampered data")
	}
}

func TestEd25519_VerifyRejectsWrongKeyID(t *testing.T) {
	now := time.Now()
	kpA, _ := GenerateEd25519KeyPair("device-a", now)
	kpB, _ := GenerateEd25519KeyPair("device-b", now)

	signer, _ := kpA.Signer()
	verifier, _ := kpB.Verifier()

	data := []byte("archive bytes")
	record, err := signer.SignWithRecord(context.Background(), data, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := verifier.VerifyRecord(context.Background(), data, record); err == nil {
		t.Fatal("expected key ID mismatch error")
	}
}
