package domain

import "errors"

// Error kinds surfaced by the sync pipeline. Callers classify with errors.Is;
// the concrete message travels in the wrapping error.
var (
	ErrAuth        = errors.New("authentication rejected")
	ErrPermission  = errors.New("permission denied")
	ErrRateLimited = errors.New("rate limited")
	ErrTransient   = errors.New("transient upstream failure")
	ErrValidation  = errors.New("payload validation failed")
	ErrUnresolved  = errors.New("unresolved issue reference")
	ErrBusy        = errors.New("sync already in progress")
	ErrStorage     = errors.New("storage failure")
	ErrNotFound    = errors.New("not found")
)
