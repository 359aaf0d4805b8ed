package snapshot

import (
	"errors"
	"fmt"
)

const CodeUnresolved = "snapshot_unresolved"

var (
	// ErrUnresolved is matched by errors.Is for every ResolutionError.
	ErrUnresolved = errors.New("master data reference unresolved")
	// ErrNotFound is returned by Lookup implementations for an unknown id.
	ErrNotFound = errors.New("master data not found")
)

// Kind names the master-data table a reference points into.
type Kind string

const (
	KindMasterItem Kind = "master_item"
	KindSupplier   Kind = "supplier"
	KindCustomer   Kind = "customer"
)

// ResolutionError reports a reference that no longer exists. The save that
// triggered it must be aborted.
type ResolutionError struct {
	Kind Kind
	ID   int64
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("snapshot: %s %d does not exist", e.Kind, e.ID)
}

func (e *ResolutionError) Code() string { return CodeUnresolved }

func (e *ResolutionError) Is(target error) bool { return target == ErrUnresolved }
