package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/sKV/lib/value"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Scope selects the partition an access targets.
type Scope int

const (
	ScopeSave   Scope = iota // the partition of the active save-slot
	ScopeGlobal              // the partition shared by all save-slots
)

func (s Scope) String() string {
	switch s {
	case ScopeSave:
		return "save"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Action is the operation of an access.
type Action int

const (
	ActionSet Action = iota
	ActionGet
	ActionDel
	ActionExists
	ActionAll
)

func (a Action) String() string {
	switch a {
	case ActionSet:
		return "set"
	case ActionGet:
		return "get"
	case ActionDel:
		return "del"
	case ActionExists:
		return "exists"
	case ActionAll:
		return "all"
	default:
		return "unknown"
	}
}

// Result is the outcome of an access.
//
//   - Set: OK is true
//   - Get: OK reports whether the key was found, Value holds the value
//   - Del: OK reports whether the key was removed
//   - Exists: OK reports whether the key exists
//   - All: Entries holds the partition in enumeration order
type Result struct {
	OK      bool
	Value   value.Value
	Entries []value.Entry
}

// IStore is the interface of the key-value store used by the adapters.
// All methods are safe for concurrent use.
type IStore interface {
	// Access runs one action against the partition selected by scope.
	// v is required for ActionSet and ignored otherwise.
	Access(scope Scope, action Action, key string, v *value.Value) (res Result, err error)

	// OnLoad switches the active save-slot to slot and reloads it from the backing store.
	OnLoad(ctx context.Context, slot string) (err error)
	// OnSave persists the save partition under slot and makes slot the active save-slot.
	OnSave(ctx context.Context, slot string) (err error)
	// Tick flushes the global partition if it is dirty and the flush interval has elapsed.
	Tick(ctx context.Context, now time.Time) (flushed bool, err error)

	// Dump writes both partitions in a human-readable format.
	Dump(w io.Writer, format DumpFormat) (err error)
	// ActiveSlot returns the name of the active save-slot ("" if none).
	ActiveSlot() (slot string)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// wrapError creates a new Error with the given code and message wrapping err.
func wrapError(code RetCode, err error, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code RetCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation.
	RetCInvalidArgument                 // 3: Missing or malformed argument.
	RetCNoActiveSlot                    // 4: Save scope used while no save-slot is active.
	RetCStorageError                    // 5: The backing store failed.
	RetCClosed                          // 6: The store is closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCNoActiveSlot:
		return "NoActiveSlot"
	case RetCStorageError:
		return "StorageError"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
