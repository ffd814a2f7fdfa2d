package hounddog

import "errors"

// Sentinel errors returned by this package and its subpackages. Wrap with
// fmt.Errorf("...: %w", ...) to add context; callers classify with errors.Is.
var (
	// ErrInvalidConfig is returned when a Config fails Validate.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidName is returned when a service or node name is empty or
	// contains a "/".
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidURI is returned when a node URI does not parse as an
	// absolute URI.
	ErrInvalidURI = errors.New("invalid uri")
	// ErrStoreUnavailable classifies an unreachable discovery store. No
	// function in this module returns it: the store adapter's retrying calls
	// keep retrying until the context is cancelled and then return ctx.Err().
	ErrStoreUnavailable = errors.New("discovery store unavailable")
	// ErrRegistrationFailed is returned by Register when Put fails after
	// Grant succeeded (§7 "Registration failure (fatal)").
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrUnregisterFailed is returned by Unregister when Revoke reports a
	// non-success. Local state is left as Registered so a retry is
	// meaningful (§7 "Unregister failure").
	ErrUnregisterFailed = errors.New("unregister failed")
	// ErrNotRegistered classifies an operation attempted on a binding that
	// holds no registration. No function in this module returns it;
	// Engine.Unregister on an unregistered binding returns nil.
	ErrNotRegistered = errors.New("binding is not registered")
)
