package apperrors

// ValidationError represents a client-fixable input error
type ValidationError struct {
	Field   string
	Message string
}

// StorageError represents an error during object store operations
type StorageError struct {
	Message string
	Cause   error
}

// IntegrityError represents a checksum mismatch between client and stored data.
// FailedParts lists every mismatching part number, not just the first.
type IntegrityError struct {
	Message     string
	FailedParts []int
}

// ProcessingError represents an error during the transcode pipeline
type ProcessingError struct {
	Message string
	Cause   error
}
