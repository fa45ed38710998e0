package protocol

const (
	// Protocol/transport validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Authority and registry layer.
	ErrClaimDenied   = "E_CLAIM_DENIED"
	ErrStaleVersion  = "E_STALE_VERSION"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrDuplicateID   = "E_DUPLICATE_ID"
	ErrUnknownEntity = "E_UNKNOWN_ENTITY"

	// Asset layer.
	ErrUploadFailed = "E_UPLOAD_FAILED"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:    {},
	ErrClaimDenied:   {},
	ErrStaleVersion:  {},
	ErrNoPermission:  {},
	ErrDuplicateID:   {},
	ErrUnknownEntity: {},
	ErrUploadFailed:  {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
