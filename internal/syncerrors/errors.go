// Package syncerrors defines the sentinel error kinds used across ECSC.
// Components wrap these with fmt.Errorf("...: %w", ErrX) so callers can
// errors.Is against the taxonomy while still getting a readable chain.
package syncerrors

import "errors"

// Integrity errors — hash mismatch, AEAD auth failure, malformed archive.
// Recovery: quarantine the artifact, surface to the caller, skip in the
// current sync cycle.
var (
	// ErrIntegrityCheckFailed is returned when an envelope's integrity_hash
	// does not match SHA256(data).
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrArchiveMalformed is returned when an import/export archive is
	// missing config.json or metadata.json, or its tar/gzip framing is
	// corrupt.
	ErrArchiveMalformed = errors.New("archive malformed")

	// ErrHashDivergence is returned when two VersionedConfig values compare
	// Equal under their vector clocks but have different config_hash
	// values — a sign of tampering or serialization drift.
	ErrHashDivergence = errors.New("hash divergence between causally equal configs")
)

// Crypto errors — unknown key version, decryption failure for a known
// version. Recovery: if decryption succeeds under a previous version,
// re-encrypt under current; otherwise surface.
var (
	// ErrAuthenticationFailed is returned when an AEAD or sealed-box tag
	// fails to verify.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnknownKeyVersion is returned when an envelope references a
	// key_version the rotation manager has no record of.
	ErrUnknownKeyVersion = errors.New("unknown key version")

	// ErrDecompressionFailed is returned when the gzip layer cannot be
	// inflated.
	ErrDecompressionFailed = errors.New("decompression failed")
)

// Storage errors — I/O errors, permission denied, disk full. Recovery:
// abort the current cycle; atomic writes ensure prior state is intact.
var (
	// ErrStorageIO wraps an underlying filesystem error.
	ErrStorageIO = errors.New("storage I/O error")

	// ErrBackupNotFound is returned by restore_backup/delete_backup for an
	// unknown backup id.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrNoConfig reports that no config has been saved yet. LoadConfig in
	// this module's storage implementations does not return it: a missing
	// config loads as (nil, nil).
	ErrNoConfig = errors.New("no config saved")
)

// Transport errors — unavailable, timeout, remote malformed. Recovery: skip
// the transport, back off, retry next cycle.
var (
	// ErrTransportUnavailable is returned when a transport's is_available
	// check fails.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrTransportTimeout is returned when a transport operation exceeds
	// its deadline.
	ErrTransportTimeout = errors.New("transport operation timed out")

	// ErrRemoteMalformed is returned when a transport's stored artifact
	// cannot be parsed as a VersionedConfig or envelope.
	ErrRemoteMalformed = errors.New("remote artifact malformed")

	// ErrFileTooLarge is returned when a push exceeds a transport's
	// configured max file size.
	ErrFileTooLarge = errors.New("file exceeds transport size limit")
)

// Schema errors — schema_version incompatible. Recovery: refuse to merge;
// surface for user action.
var (
	// ErrSchemaIncompatible is returned when two configs being merged have
	// a major schema_version mismatch.
	ErrSchemaIncompatible = errors.New("incompatible schema version")
)

// Concurrency errors — lock acquisition timeout. Recovery: back off and
// retry up to a cap, then surface.
var (
	// ErrLockTimeout is returned when the per-storage or cross-process
	// lock cannot be acquired within its deadline.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// Pairing errors.
var (
	// ErrInvalidPairingPayload is returned when a pairing QR payload has
	// the wrong type tag or a public key that does not decode to 32 bytes.
	ErrInvalidPairingPayload = errors.New("invalid pairing payload")
)
