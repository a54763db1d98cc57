package engine

import "fmt"

// Error kinds returned by the costing core. Recoverable per-row kinds
// (UnmappedSku, Shortfall, ZeroDenominator) surface as warnings; the rest
// abort the operation with no state change.
const (
	KindInvalidInbound   = "InvalidInbound"
	KindUnmappedSku      = "UnmappedSku"
	KindShortfall        = "Shortfall"
	KindZeroDenominator  = "ZeroDenominator"
	KindBusyWriter       = "BusyWriter"
	KindAbortedByCancel  = "AbortedByCancel"
	KindAbortedByTimeout = "AbortedByTimeout"
	KindStoreError       = "StoreError"

	// Warning-only kinds outside the fatal taxonomy.
	KindMissingDutyPool = "MissingDutyPool"
	KindInvalidRow      = "InvalidRow"
)

// Error is an operation-fatal failure with a stable kind.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds an Error with a formatted message.
func Errf(kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Warning is a recoverable per-row issue accumulated during a run and
// returned alongside ok=true.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Warnf builds a Warning with a formatted message.
func Warnf(kind, format string, args ...interface{}) Warning {
	return Warning{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
