package synclog

// EventType identifies a typed audit event emitted at a sync-lifecycle
// decision point: a merge tiebreak, a skipped transport, a performed
// rotation, a quarantined artifact.
type EventType string

const (
	// EventCycleStarted marks the beginning of a sync_cycle.
	EventCycleStarted EventType = "cycle.started"
	// EventCycleCompleted marks a sync_cycle finishing without a fatal error.
	EventCycleCompleted EventType = "cycle.completed"
	// EventCycleFailed marks a sync_cycle aborted by a storage or crypto error.
	EventCycleFailed EventType = "cycle.failed"

	// EventTransportPullFailed records a transport.Pull failure; the cycle
	// proceeds with the remaining transports.
	EventTransportPullFailed EventType = "transport.pull.failed"
	// EventTransportPushFailed records a transport.Push failure.
	EventTransportPushFailed EventType = "transport.push.failed"
	// EventTransportSkipped records a transport that was not available
	// this cycle and so was neither pulled from nor pushed to.
	EventTransportSkipped EventType = "transport.skipped"

	// EventMergeTiebreak records that two concurrent VersionedConfig
	// values were resolved by the deterministic tiebreak rule rather than
	// by vector-clock dominance.
	EventMergeTiebreak EventType = "merge.tiebreak"
	// EventHashDivergence records two causally Equal configs with
	// differing config_hash values — tampering or serialization drift.
	EventHashDivergence EventType = "merge.hash_divergence"

	// EventBackupCreated records a pre-overwrite backup.
	EventBackupCreated EventType = "storage.backup_created"
	// EventArtifactQuarantined records a corrupt on-disk artifact moved
	// out of the live path.
	EventArtifactQuarantined EventType = "storage.artifact_quarantined"

	// EventRotationPerformed records a key rotation and the resulting
	// repack of the live config under the new key.
	EventRotationPerformed EventType = "rotation.performed"

	// EventPairingCompleted records a successful device pairing handshake.
	EventPairingCompleted EventType = "pairing.completed"
)
