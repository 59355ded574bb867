package importexport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// PairingType is the required "type" tag on every pairing QR payload.
const PairingType = "flowdesk_pairing"

// PairingVersion is the payload format version this package emits.
const PairingVersion = "1.0"

// pairingPayload is the exact JSON shape exchanged as a QR code.
type pairingPayload struct {
	Type       string `json:"type"`
	Version    string `json:"version"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	PublicKey  string `json:"public_key"`
	Timestamp  int64  `json:"timestamp"`
}

// PairingInfo is the parsed, validated form of a pairing QR payload.
type PairingInfo struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	PublicKey  [32]byte
	Timestamp  time.Time
}

// GeneratePairingQRData emits the compact JSON string a QR code should
// encode to advertise deviceID/deviceName/deviceType and publicKey.
func GeneratePairingQRData(deviceID, deviceName, deviceType string, publicKey [32]byte, now time.Time) (string, error) {
	payload := pairingPayload{
		Type:       PairingType,
		Version:    PairingVersion,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		DeviceType: deviceType,
		PublicKey:  crypto.EncodeBase64(publicKey[:]),
		Timestamp:  now.Unix(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal pairing payload: %w", err)
	}
	return string(data), nil
}

// ParsePairingQRData validates and decodes a scanned QR payload. It
// tolerates surrounding whitespace and rejects any payload whose type is
// not "flowdesk_pairing" or whose public_key does not decode to 32 bytes.
func ParsePairingQRData(qrData string) (*PairingInfo, error) {
	var payload pairingPayload
	if err := json.Unmarshal([]byte(qrData), &payload); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", syncerrors.ErrInvalidPairingPayload, err)
	}

	if payload.Type != PairingType {
		return nil, fmt.Errorf("%w: type %q, expected %q", syncerrors.ErrInvalidPairingPayload, payload.Type, PairingType)
	}
	if payload.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing device_id", syncerrors.ErrInvalidPairingPayload)
	}
	if payload.DeviceName == "" {
		return nil, fmt.Errorf("%w: missing device_name", syncerrors.ErrInvalidPairingPayload)
	}

	keyBytes, err := crypto.DecodeBase64(payload.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public_key is not valid base64: %v", syncerrors.ErrInvalidPairingPayload, err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("%w: public_key decodes to %d bytes, want 32", syncerrors.ErrInvalidPairingPayload, len(keyBytes))
	}

	var pubKey [32]byte
	copy(pubKey[:], keyBytes)

	return &PairingInfo{
		DeviceID:   payload.DeviceID,
		DeviceName: payload.DeviceName,
		DeviceType: payload.DeviceType,
		PublicKey:  pubKey,
		Timestamp:  time.Unix(payload.Timestamp, 0).UTC(),
	}, nil
}
