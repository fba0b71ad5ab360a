package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any scan is created.
	ErrValidation = errors.New("validation failed")
	// ErrCampaignNotFound is returned when a campaign does not exist.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrScanNotFound is returned when a scan does not exist.
	ErrScanNotFound = errors.New("scan not found")
	// ErrScanTerminal is returned when a finished scan is run or cancelled.
	ErrScanTerminal = errors.New("scan already finished")
	// ErrScanActive is returned when a campaign already has a pending or running scan.
	ErrScanActive = errors.New("campaign already has an active scan")
	// ErrScanRunning is returned when a scan is already running in this process.
	ErrScanRunning = errors.New("scan already running")
	// ErrScanAborted is returned by RunScan when the scan ended FAILED.
	ErrScanAborted = errors.New("scan aborted")
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
