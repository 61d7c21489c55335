// Package ratelimit provides token-bucket rate limiting for calls the
// reference RemoteApi client makes against the remote.
package ratelimit

import "time"

// Target throughput per remote-api scope, expressed as requests/second. A
// production deployment would derive these from the remote's documented
// limits; the reference client ships conservative defaults and targets a
// fraction of them for safety margin, the way a client sharing one box with
// other consumers of the same account always should.
const (
	// MetadataRatePerSec bounds load_files / load_file / rename_file /
	// copy_file / move_file / create_dir_name / delete_file calls.
	MetadataRatePerSec    = 8.0
	MetadataBurstCapacity = 40.0

	// TransferRatePerSec bounds upload_file_reader / get_file_reader calls —
	// the calls that open a transfer, not the byte stream itself.
	TransferRatePerSec    = 4.0
	TransferBurstCapacity = 20.0
)

// Utilization thresholds and notification throttling, shared across scopes.
const (
	// UtilizationWarnThreshold is the refill-rate/hard-limit fraction above
	// which Wait starts emitting "approaching the limit" notices.
	UtilizationWarnThreshold = 0.8
	// UtilizationSuppressThreshold re-arms the warning once utilization
	// drops back below this fraction (hysteresis avoids notice flicker).
	UtilizationSuppressThreshold = 0.6
	// NotifyMinInterval throttles repeated utilization notices.
	NotifyMinInterval = 10 * time.Second
)
