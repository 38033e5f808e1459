package manager

import "errors"

// ErrDuplicateInstance is returned when a (category, instanceName) pair is
// configured while an instance with that key is already loaded. The first
// instance remains registered and untouched.
var ErrDuplicateInstance = errors.New("module instance already exists")

// ErrNotLoaded is returned for operations on an instance that is not in the
// loaded tree.
var ErrNotLoaded = errors.New("module instance not loaded")

// ErrAmbiguousInstance is returned when a connection target name exists in
// both the hardware and the logic tree, so the connection is not well
// defined.
var ErrAmbiguousInstance = errors.New("instance name present in both hardware and logic trees")
