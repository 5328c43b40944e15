package domain

import "fmt"

// FaultKind names the failure classes of a capture session. Only CaptureFault
// at session start is fatal to the caller; everything else is logged and the
// session continues in a possibly degraded form.
type FaultKind string

const (
	// CaptureFault: the probe could not attach to the collector at start.
	CaptureFault FaultKind = "capture_fault"
	// TransportFault: the channel to the collector failed mid-session.
	TransportFault FaultKind = "transport_fault"
	// MalformedMessage: the collector could not parse an incoming message.
	MalformedMessage FaultKind = "malformed_message"
	// FileReadFault: a source file could not be read during registration.
	FileReadFault FaultKind = "file_read_fault"
	// ReconstructionInconsistency: the log violated a stack invariant, e.g.
	// a return with no matching open call.
	ReconstructionInconsistency FaultKind = "reconstruction_inconsistency"
)

// Fault is an error tagged with its failure class.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err with a fault kind.
func NewFault(kind FaultKind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// Faultf builds a fault from a format string.
func Faultf(kind FaultKind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}
