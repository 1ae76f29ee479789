// Package runtime defines the capability surface envman requires from a
// container runtime.
//
// The [Runtime] interface covers image operations (find, build, tag,
// pull, push, remove), container lifecycle (run, list, stop, remove),
// command execution, one-shot statistics, out-of-band file copy, and a
// helper network. The orchestration layer in the session package is
// written entirely against this interface; the docker subpackage
// provides the Docker Engine implementation, and tests substitute fakes.
//
// Errors from an implementation must remain classifiable: daemon
// unreachability maps to [ErrUnavailable], a rejected build
// specification to [ErrBuildSpec], and a failed build execution to
// [ErrBuildExecution]. Callers branch with errors.Is; implementations
// must not collapse these into a generic failure.
package runtime
