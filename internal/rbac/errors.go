package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// Error kinds shared with the HTTP layer.
var (
	ErrNotFound     = httpx.ErrNotFound
	ErrDuplicateKey = httpx.ErrDuplicate
	ErrValidation   = httpx.ErrValidation
	ErrUnauthorized = httpx.ErrUnauthorized
	ErrForbidden    = httpx.ErrForbidden

	// ErrPartialReconciliation marks a reconciliation that stopped midway.
	ErrPartialReconciliation = errors.New("partial reconciliation failure")
)

func notFound(kind string, id int64) error {
	return httpx.NewError(ErrNotFound, "%s %d not found", kind, id)
}

func duplicate(kind, field string) error {
	return httpx.NewError(ErrDuplicateKey, "%s with this %s already exists", kind, field)
}

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FieldErrors exposes the field map to the HTTP layer.
func (e *ValidationError) FieldErrors() map[string]string { return e.Fields }

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ChangeOp is the direction of a single association change.
type ChangeOp string

const (
	OpAdd    ChangeOp = "add"
	OpRemove ChangeOp = "remove"
)

// Change is one add or remove applied during reconciliation.
type Change struct {
	Op ChangeOp `json:"op"`
	ID int64    `json:"id"`
}

// PartialReconciliationError reports a sequential reconciliation that stopped
// at the first failed change. Applied changes were not rolled back.
type PartialReconciliationError struct {
	Kind    string
	OwnerID int64
	Applied []Change
	Failed  Change
	Pending []Change
	Err     error
}

func (e *PartialReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s %d: %s %d failed after %d applied, %d pending: %v",
		e.Kind, e.OwnerID, e.Failed.Op, e.Failed.ID, len(e.Applied), len(e.Pending), e.Err)
}

func (e *PartialReconciliationError) Unwrap() []error {
	return []error{ErrPartialReconciliation, e.Err}
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicateKey reports whether err is a DuplicateKey error.
func IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }

// IsClientError reports whether err belongs to the client-error taxonomy.
func IsClientError(err error) bool { return httpx.IsClientError(err) }
