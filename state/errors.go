package state

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid registration: conflicting data
// types for one attribute identity, duplicate field names, or a bad group
// definition.
type ConfigurationError struct {
	Dataset string
	Group   string
	Attr    string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", attrPath(e.Dataset, e.Group, e.Attr), e.Message)
}

// IdentityViolationError reports an attempt to change previously fixed
// entity ids, or to apply data for ids an initialized group has never seen.
type IdentityViolationError struct {
	Dataset string
	Group   string
	Message string
}

func (e *IdentityViolationError) Error() string {
	return fmt.Sprintf("identity violation for %s: %s", attrPath(e.Dataset, e.Group, ""), e.Message)
}

// DuplicateIDError reports an id handed to the index twice, either within
// one batch or across batches.
type DuplicateIDError struct {
	Dataset string
	Group   string
	ID      int64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate entity id %d for %s", e.ID, attrPath(e.Dataset, e.Group, ""))
}

// MalformedUpdateError reports incoming update data the store cannot apply:
// wrong value types, row counts that disagree with the ids, or invalid CSR
// structure. The update is never partially applied.
type MalformedUpdateError struct {
	Dataset string
	Group   string
	Attr    string
	Message string
}

func (e *MalformedUpdateError) Error() string {
	return fmt.Sprintf("malformed update for %s: %s", attrPath(e.Dataset, e.Group, e.Attr), e.Message)
}

// UninitializedAccessError reports a read of change or sentinel state on an
// attribute whose column was never allocated.
type UninitializedAccessError struct {
	Dataset string
	Group   string
	Attr    string
}

func (e *UninitializedAccessError) Error() string {
	return fmt.Sprintf("attribute %s accessed before initialization", attrPath(e.Dataset, e.Group, e.Attr))
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsIdentityViolation checks if an error is an IdentityViolationError or a
// DuplicateIDError (a duplicate id is one way to violate identity).
func IsIdentityViolation(err error) bool {
	var ive *IdentityViolationError
	var dup *DuplicateIDError
	return errors.As(err, &ive) || errors.As(err, &dup)
}

// IsDuplicateID checks if an error is a DuplicateIDError.
func IsDuplicateID(err error) bool {
	var dup *DuplicateIDError
	return errors.As(err, &dup)
}

// IsMalformedUpdate checks if an error is a MalformedUpdateError.
func IsMalformedUpdate(err error) bool {
	var mue *MalformedUpdateError
	return errors.As(err, &mue)
}

// IsUninitializedAccess checks if an error is an UninitializedAccessError.
func IsUninitializedAccess(err error) bool {
	var uae *UninitializedAccessError
	return errors.As(err, &uae)
}

func attrPath(dataset, group, attr string) string {
	path := dataset
	if group != "" {
		path += "/" + group
	}
	if attr != "" {
		path += "/" + attr
	}
	if path == "" {
		return "<unbound>"
	}
	return path
}
