package errors

import (
	"errors"
	"fmt"
)

// Errors raised by the receive and routing pipeline
var (
	ErrConfigMissing = errors.New("config: required field missing")
)

// HeaderParseError indicates a DICOM file whose header could not be parsed
type HeaderParseError struct {
	Path string
	Err  error
}

func (e *HeaderParseError) Error() string {
	return fmt.Sprintf("failed to parse DICOM header in %s: %v", e.Path, e.Err)
}

func (e *HeaderParseError) Unwrap() error {
	return e.Err
}

// NewHeaderParseError creates a new header parse error
func NewHeaderParseError(path string, err error) *HeaderParseError {
	return &HeaderParseError{Path: path, Err: err}
}

// PlacementError indicates a filesystem failure while placing a file
// into the organized receive tree
type PlacementError struct {
	Source string
	Dest   string
	Err    error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("failed to place %s at %s: %v", e.Source, e.Dest, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// NewPlacementError creates a new placement error
func NewPlacementError(source, dest string, err error) *PlacementError {
	return &PlacementError{Source: source, Dest: dest, Err: err}
}

// StoreFailedError indicates a C-STORE that completed with a non-success status
type StoreFailedError struct {
	SOPInstanceUID string
	Status         uint16
}

func (e *StoreFailedError) Error() string {
	return fmt.Sprintf("C-STORE of %s failed with status 0x%04X", e.SOPInstanceUID, e.Status)
}

// NewStoreFailedError creates a new store failed error
func NewStoreFailedError(sopInstanceUID string, status uint16) *StoreFailedError {
	return &StoreFailedError{SOPInstanceUID: sopInstanceUID, Status: status}
}
