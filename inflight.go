package klatch

import "github.com/ambiyansyah-risyal/klatch/internal/singleflight"

// PendingCall is an in-flight buffered request that other callers can join.
type PendingCall = singleflight.Call[*Result]

// ErrAlreadyRegistered is returned by InFlightRegistry.Register for a
// fingerprint that already has an owner.
var ErrAlreadyRegistered = singleflight.ErrAlreadyRegistered

// InFlightRegistry maps fingerprints to the single pending request that
// serves them.
type InFlightRegistry struct {
	group *singleflight.Group[*Result]
}

// NewInFlightRegistry returns an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{group: singleflight.New[*Result]()}
}

// Join returns the pending call for fp, if any.
func (r *InFlightRegistry) Join(fp string) (*PendingCall, bool) {
	return r.group.Join(fp)
}

// Register makes the caller the owner of fp.
func (r *InFlightRegistry) Register(fp string) (*PendingCall, error) {
	return r.group.Register(fp)
}

// JoinOrRegister joins the pending call for fp or registers the caller as
// its owner in one step.
func (r *InFlightRegistry) JoinOrRegister(fp string) (*PendingCall, bool) {
	return r.group.JoinOrRegister(fp)
}

// Release completes call with the owner's outcome and removes fp.
func (r *InFlightRegistry) Release(fp string, call *PendingCall, res *Result, err error) error {
	return r.group.Release(fp, call, res, err)
}

// Len reports the number of pending calls.
func (r *InFlightRegistry) Len() int {
	return r.group.Len()
}
