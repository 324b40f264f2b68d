package plugin

import "errors"

var (
	// ErrDependencyNotFound is returned when a plugin lists a dependency no
	// descriptor defines.
	ErrDependencyNotFound = errors.New("plugin dependency not found")

	// ErrCyclicDependency is returned when no complete load order exists.
	ErrCyclicDependency = errors.New("circular plugin dependency")

	// ErrInvalidTransition is returned for an illegal state change.
	ErrInvalidTransition = errors.New("invalid plugin state transition")

	// ErrPluginNotFound is returned when a name is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when a canonical name is added twice.
	ErrAlreadyRegistered = errors.New("plugin already registered")
)
