package runtime

// The execution identity for in-container processes.
//
// A closed set: processes run either as root or as the unprivileged
// container user. The identity is passed explicitly to every capability
// call that starts a process; there is no implicit current user.
type Identity struct {
	name string
	uid  int
}

var (
	// Root identity (uid 0), used for provisioning steps that write
	// outside the container user's home.
	Root = Identity{name: "root", uid: 0}

	// The unprivileged user baked into the environment images (uid 999).
	ContainerUser = Identity{name: "container_user", uid: 999}
)

// Returns the account name of the identity.
func (i Identity) Name() string {
	return i.name
}

// Returns the numeric uid of the identity.
func (i Identity) UID() int {
	return i.uid
}

// Whether the identity has been set to one of the defined users.
func (i Identity) Valid() bool {
	return i == Root || i == ContainerUser
}
