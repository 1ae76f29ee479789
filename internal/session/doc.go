// Package session drives the lifecycle of a managed environment: image
// resolution and build, container creation on the helper network,
// in-container provisioning (configuration files, SSH material, the
// three package sets), and teardown.
//
// A Session is a state machine over a runtime.Runtime. It starts
// Uninitialized, resolves the current image and the latest managed
// container, and moves through Provisioned to Active as the environment
// is set up and used. Provisioning is expressed as an ordered list of
// idempotence-gated steps; a step that would overwrite an existing
// destination without overwrite set fails with ErrAlreadyExists before
// any write happens.
package session
