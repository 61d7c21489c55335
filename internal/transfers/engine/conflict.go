package engine

// ConflictKind selects the remote conflict-handling mode for an upload
// attempt.
type ConflictKind int

const (// ConflictOverwrite lets the remote replace an existing file,
	// optionally fenced by the values remembered at content-load time.
	ConflictOverwrite ConflictKind = iota
	// ConflictError makes the remote reject the upload if the destination
	// already exists; used whenever AutoRename is in effect so the
	// scheduler can retry under a different name.
	ConflictError)

// OverwriteFence carries the optional optimistic-concurrency guards for an
// overwrite upload: size, modification time, and content hash. A nil
// pointer means "don't fence on this field".
type OverwriteFence struct {
	IfRemoteSize *int64
	IfRemoteModified *int64
	IfRemoteHash *string
}

// ConflictResolution is passed to RepoFilesUploader.UploadFileReader for
// every upload attempt.
type ConflictResolution struct {
	Kind ConflictKind
	Overwrite OverwriteFence
}

// ConflictResolutionError is the zero-configuration ConflictError resolution.
func ConflictResolutionError() ConflictResolution {
	return ConflictResolution{Kind: ConflictError}
}

// ConflictResolutionOverwrite builds an Overwrite resolution with the
// given fencing values (any of which may be left nil).
func ConflictResolutionOverwrite(fence OverwriteFence) ConflictResolution {
	return ConflictResolution{Kind: ConflictOverwrite, Overwrite: fence}
}
