package scanengine

import "context"

type Status string

const (
	StatusClean    Status = "clean"
	StatusInfected Status = "infected"
	StatusError    Status = "error"
)

// Outcome is the tri-state result of one scan invocation. A successful
// invocation is exactly clean or infected; everything else (bad exit
// status, timeout, launch failure) is StatusError and must never be
// read as a pass.
type Outcome struct {
	Status    Status
	Signature string // set when infected
	Detail    string // set on engine error
	Output    string // raw engine report, kept for alerts and audit
}

func (o Outcome) Clean() bool    { return o.Status == StatusClean }
func (o Outcome) Infected() bool { return o.Status == StatusInfected }

// Indeterminate reports whether the scan failed to produce a verdict.
func (o Outcome) Indeterminate() bool { return o.Status == StatusError }

// Engine scans a local file and classifies it. Implementations wrap one
// external detection engine; the interface is the swap point for future
// engines.
type Engine interface {
	Name() string
	Scan(ctx context.Context, path string) Outcome
	Version(ctx context.Context) (string, error)
}
