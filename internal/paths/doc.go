// Package paths resolves host filesystem paths and maps them across the
// host/container boundary.
//
// A [Resolver] normalizes user-supplied paths: a leading "~" is expanded
// to the home directory and relative segments are resolved against the
// working directory. Both facts are captured at construction so that
// resolution is a pure function of its inputs.
//
// A [MountTable] declares which host directories are visible inside a
// container and where. HostToContainer and ContainerToHost translate
// paths between the two sides using a directory-boundary-aware
// longest-prefix match, so the most specific mount always wins and
// "/mnt/foo" never claims "/mnt/foobar".
//
// The package also provides platform-appropriate locations for envman's
// own configuration, following XDG conventions on Linux and
// platform-native conventions on macOS and Windows.
package paths
