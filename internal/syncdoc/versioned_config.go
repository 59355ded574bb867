// Package syncdoc defines VersionedConfig, the synchronized datum ECSC moves
// between devices: an opaque JSON configuration payload paired with causal
// (vector clock) and integrity (config_hash) metadata.
package syncdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowdesk/syncd/internal/vclock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// DefaultSchemaVersion is used for configs created without an explicit
// schema version.
const DefaultSchemaVersion = "1.0.0"

// ErrIntegrityMismatch is returned by VerifyIntegrity when config_hash no
// longer matches the canonical hash of config.
var ErrIntegrityMismatch = errors.New("config_hash does not match canonical hash of config")

// VersionedConfig is the synchronized configuration document.
type VersionedConfig struct {
	Config        json.RawMessage `json:"config"`
	VectorClock   vclock.Clock    `json:"vector_clock"`
	SchemaVersion string          `json:"schema_version"`
	ModifiedBy    string          `json:"modified_by"`
	ModifiedAt    time.Time       `json:"modified_at"`
	ConfigHash    string          `json:"config_hash"`
}

// New creates a VersionedConfig from an initial config payload, recording
// deviceID as the first mutator and incrementing its clock to 1.
func New(config json.RawMessage, deviceID string, now time.Time) (*VersionedConfig, error) {
	hash, canon, err := canonicalHash(config)
	if err != nil {
		return nil, err
	}

	return &VersionedConfig{
		Config:        canon,
		VectorClock:   vclock.New().Increment(deviceID),
		SchemaVersion: DefaultSchemaVersion,
		ModifiedBy:    deviceID,
		ModifiedAt:    now,
		ConfigHash:    hash,
	}, nil
}

// ApplyLocalChange replaces Config with newConfig, recomputes ConfigHash,
// records deviceID/now as the mutator, and increments the device's vector
// clock counter. It is the only sanctioned way to mutate a VersionedConfig
// locally.
func (v *VersionedConfig) ApplyLocalChange(newConfig json.RawMessage, deviceID string, now time.Time) error {
	hash, canon, err := canonicalHash(newConfig)
	if err != nil {
		return err
	}

	v.Config = canon
	v.ConfigHash = hash
	v.ModifiedBy = deviceID
	v.ModifiedAt = now
	v.VectorClock = v.VectorClock.Increment(deviceID)
	return nil
}

// VerifyIntegrity reports whether ConfigHash matches the canonical hash of
// Config.
func (v *VersionedConfig) VerifyIntegrity() error {
	hash, _, err := canonicalHash(v.Config)
	if err != nil {
		return err
	}
	if hash != v.ConfigHash {
		return ErrIntegrityMismatch
	}
	return nil
}

// Clone returns a deep-enough copy of v suitable for independent mutation
// (the orchestrator treats VersionedConfig as exclusively owned during a
// sync cycle and hands out copies to transports).
func (v *VersionedConfig) Clone() *VersionedConfig {
	out := *v
	out.Config = append(json.RawMessage(nil), v.Config...)
	out.VectorClock = v.VectorClock.Clone()
	return &out
}

// canonicalHash re-serializes raw through crypto.CanonicalJSON (sorted keys,
// no insignificant whitespace) and returns both the hex hash and the
// canonical bytes, so callers always store the canonicalized form.
func canonicalHash(raw json.RawMessage) (hash string, canonical json.RawMessage, err error) {
	var v interface{}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", nil, fmt.Errorf("config is not valid JSON: %w", err)
	}

	canon, err := crypto.CanonicalJSON(v)
	if err != nil {
		return "", nil, fmt.Errorf("canonicalize config: %w", err)
	}

	return crypto.HashToHex(canon), canon, nil
}
