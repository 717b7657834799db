package engine

import "errors"

var (
	// ErrDomainBusy is returned when the domain already has a running or gated run.
	ErrDomainBusy = errors.New("domain already has an active run")
	// ErrRunNotGated is returned by Decide for a run that has not reached the gate yet.
	ErrRunNotGated = errors.New("run is not awaiting a decision")
	// ErrRunNotRecovered is returned by Decide for an active run this engine does
	// not hold, such as a gated run left by another process before Recover.
	ErrRunNotRecovered = errors.New("run is not held by this engine")
	// ErrMissionNotEnabled is returned when the mission is disabled for the domain.
	ErrMissionNotEnabled = errors.New("mission is not enabled for domain")
	// ErrDomainRequired is returned for single-domain missions started without a domain.
	ErrDomainRequired = errors.New("domain id is required")
	// ErrEngineStopped is returned by Start after Stop.
	ErrEngineStopped = errors.New("engine stopped")
)
