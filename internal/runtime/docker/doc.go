// Package docker implements the runtime capability set against the
// Docker Engine API.
//
// A [Runtime] wraps a Docker SDK client created from the environment
// (DOCKER_HOST et al.) with API version negotiation. Image builds send a
// tar of the context directory to the daemon and decode the JSON message
// stream for the build log; exec attaches to a demultiplexed output
// stream and reports the exit code separately.
//
// File copy is the one deliberate exception to the SDK: it shells out to
// the docker CLI binary ("docker cp"), because the programmatic API
// offers no direct copy primitive and the CLI handles tar framing and
// ownership edge cases that would otherwise have to be reimplemented.
//
// Example usage:
//
//	rt, err := docker.New()
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	img, log, err := rt.BuildImage(ctx, runtime.BuildOptions{
//	    ContextDir: dir,
//	    Dockerfile: "Dockerfile",
//	    Tags:       []string{"modelcell/env:latest"},
//	})
package docker
