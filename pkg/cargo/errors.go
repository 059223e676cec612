package cargo

import "errors"

// Failure kinds of a single build. All of them end that build; nothing is
// retried.
var (
	// ErrLaunch means the cargo process could not be started.
	ErrLaunch = errors.New("failed to run cargo")
	// ErrBuildPlan usually points at a manifest or toolchain problem rather
	// than a compile error.
	ErrBuildPlan = errors.New("failed to get a build plan from cargo")
	// ErrBuildFailed is a non-zero exit of the real build. Cargo's own
	// diagnostics have already been forwarded to stderr by then.
	ErrBuildFailed = errors.New("cargo build finished with an error")
	// ErrArtifactMissing means cargo never reported the requested target.
	ErrArtifactMissing = errors.New("cargo build didn't return information on the requested library")
	// ErrArtifactKindMissing means the target was built without the
	// required crate type.
	ErrArtifactKindMissing = errors.New("required crate type was not built")
)
