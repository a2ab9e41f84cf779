package domain

// Installation timeline event types
const (
	EventTypeInstallStart     = "INSTALL_START"
	EventTypePrimaryInstall   = "PRIMARY_INSTALL"
	EventTypePrimaryBootstrap = "PRIMARY_BOOTSTRAP"
	EventTypeSecondaryInstall = "SECONDARY_INSTALL"
	EventTypeSecondaryJoin    = "SECONDARY_JOIN"
	EventTypeReplicaVerify    = "REPLICA_VERIFY"
	EventTypeInstallDone      = "INSTALL_DONE"
	EventTypeInstallFailed    = "INSTALL_FAILED"
)
