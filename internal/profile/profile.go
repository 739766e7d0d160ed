// Package profile asserts the platform power profile. The firmware maps the
// profile to its own fan curve; writing it is the only lever available.
package profile

// Profile is a value accepted by the platform profile node.
type Profile string

const (
	Balanced    Profile = "balanced"
	Performance Profile = "performance"
)

func (p Profile) String() string {
	return string(p)
}

// Valid reports whether p is one of the profiles the daemon asserts.
func (p Profile) Valid() bool {
	return p == Balanced || p == Performance
}
