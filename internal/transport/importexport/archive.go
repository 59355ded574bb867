// Package importexport implements the .workosync archive format: a
// tar+gzip bundle of config.json and metadata.json, optionally wrapped in
// the AEAD envelope and Ed25519-signed when a signer is given, plus the device-pairing QR
// payload.
package importexport

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// FormatVersion is the archive format tag written into every ArchiveMetadata.
const FormatVersion = "1.0.0"

const (
	configEntryName   = "config.json"
	metadataEntryName = "metadata.json"
	tarEntryMode      = 0o644
)

// ArchiveMetadata describes a .workosync archive's provenance and
// integrity. Signature is an Ed25519 signature over the final archive
// bytes (after compression and any encryption), base64-encoded.
type ArchiveMetadata struct {
	CreatedAt           time.Time `json:"created_at"`
	CreatorDevice       string    `json:"creator_device"`
	FormatVersion       string    `json:"format_version"`
	ConfigSchemaVersion string    `json:"config_schema_version"`
	Description         string    `json:"description,omitempty"`
	SizeBytes           int64     `json:"size_bytes"`
	Checksum            string    `json:"checksum"`
	Signature           string    `json:"signature,omitempty"`
}

// ArchiveOptions controls the optional encryption layer wrapping the
// tar+gzip payload.
type ArchiveOptions struct {
	// Encrypt, when true, wraps the compressed tar stream in the AEAD
	// envelope using workspaceKey. When false the gzip stream is the final
	// archive body.
	Encrypt bool
}

// CreateArchive builds a .workosync archive for cfg: tar{config.json,
// metadata.json} | gzip | (optional AEAD envelope) | Ed25519 signature over
// the result. It returns the final archive bytes and the metadata record
// (with Signature populated) describing them.
func CreateArchive(
	ctx context.Context,
	cfg *syncdoc.VersionedConfig,
	description string,
	creatorDeviceID string,
	opts ArchiveOptions,
	workspaceKey []byte,
	rotation *envelope.KeyRotationManager,
	signer *crypto.Ed25519Signer,
	now time.Time,
) ([]byte, *ArchiveMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal config for archive: %w", err)
	}

	innerMeta := ArchiveMetadata{
		CreatedAt:           now,
		CreatorDevice:       creatorDeviceID,
		FormatVersion:       FormatVersion,
		ConfigSchemaVersion: cfg.SchemaVersion,
		Description:         description,
	}
	metadataJSON, err := json.Marshal(innerMeta)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal archive metadata: %w", err)
	}

	tarBytes, err := buildTar(configJSON, metadataJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("build tar: %w", err)
	}

	gzBytes, err := gzipCompress(tarBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("compress archive: %w", err)
	}

	body := gzBytes
	if opts.Encrypt {
		env, err := envelope.Encrypt(ctx, gzBytes, nil, workspaceKey, envelope.Options{}, rotation.CurrentVersion(), creatorDeviceID, now)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt archive: %w", err)
		}
		envBytes, err := json.Marshal(env)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal archive envelope: %w", err)
		}
		body = envBytes
	}

	innerMeta.SizeBytes = int64(len(body))
	innerMeta.Checksum = crypto.HashToHex(body)
	if signer != nil {
		sig, err := signer.Sign(ctx, body)
		if err != nil {
			return nil, nil, fmt.Errorf("sign archive: %w", err)
		}
		innerMeta.Signature = crypto.EncodeBase64(sig)
	}

	return body, &innerMeta, nil
}

// ExtractArchive inverts CreateArchive: it verifies the signature (if
// verifier is non-nil), decrypts if the archive was encrypted, decompresses,
// and unpacks config.json/metadata.json. Missing either inner file returns
// ErrArchiveMalformed.
func ExtractArchive(
	ctx context.Context,
	archiveBytes []byte,
	opts ArchiveOptions,
	workspaceKeyFor func(version uint32) ([]byte, error),
	verifier *crypto.Ed25519Verifier,
	signature []byte,
) (*syncdoc.VersionedConfig, *ArchiveMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if verifier != nil {
		if err := verifier.Verify(ctx, archiveBytes, signature); err != nil {
			return nil, nil, fmt.Errorf("%w: archive signature invalid: %v", syncerrors.ErrIntegrityCheckFailed, err)
		}
	}

	gzBytes := archiveBytes
	if opts.Encrypt {
		var env envelope.EncryptedEnvelope
		if err := json.Unmarshal(archiveBytes, &env); err != nil {
			return nil, nil, fmt.Errorf("%w: archive is not a valid envelope: %v", syncerrors.ErrArchiveMalformed, err)
		}
		key, err := workspaceKeyFor(env.KeyVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("extract archive: %w", err)
		}
		plaintext, err := envelope.Decrypt(ctx, &env, nil, key, envelope.Options{})
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt archive: %w", err)
		}
		gzBytes = plaintext
	}

	tarBytes, err := gzipDecompress(gzBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decompress archive: %v", syncerrors.ErrArchiveMalformed, err)
	}

	configJSON, metadataJSON, err := readTar(tarBytes)
	if err != nil {
		return nil, nil, err
	}

	var cfg syncdoc.VersionedConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, nil, fmt.Errorf("%w: config.json is not valid JSON: %v", syncerrors.ErrArchiveMalformed, err)
	}
	var meta ArchiveMetadata
	if err := json.Unmarshal(metadataJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("%w: metadata.json is not valid JSON: %v", syncerrors.ErrArchiveMalformed, err)
	}

	return &cfg, &meta, nil
}

func buildTar(configJSON, metadataJSON []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)

	for _, entry := range []struct {
		name string
		data []byte
	}{
		{configEntryName, configJSON},
		{metadataEntryName, metadataJSON},
	} {
		hdr := &tar.Header{
			Name: entry.name,
			Mode: tarEntryMode,
			Size: int64(len(entry.data)),
		}
		if err := w.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := w.Write(entry.data); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readTar(tarBytes []byte) (configJSON, metadataJSON []byte, err error) {
	r := tar.NewReader(bytes.NewReader(tarBytes))
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read tar: %v", syncerrors.ErrArchiveMalformed, err)
		}

		data, err := io.ReadAll(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read tar entry %s: %v", syncerrors.ErrArchiveMalformed, hdr.Name, err)
		}

		switch hdr.Name {
		case configEntryName:
			configJSON = data
		case metadataEntryName:
			metadataJSON = data
		}
	}

	if configJSON == nil || metadataJSON == nil {
		return nil, nil, fmt.Errorf("%w: missing config.json or metadata.json", syncerrors.ErrArchiveMalformed)
	}
	return configJSON, metadataJSON, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
