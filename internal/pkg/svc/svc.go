// Package svc carries the process identity (name and version, injected via
// ldflags) and the startup wiring shared by the binary.
package svc

var (
	name    string
	version string
)

// SetInfo records the service identity. It only takes effect once, so test
// binaries cannot clobber the ldflags values.
func SetInfo(n, v string) {
	if name == "" {
		name = n
	}
	if version == "" {
		version = v
	}
}

// Name returns the service name.
func Name() string {
	return name
}

// Version returns the service version.
func Version() string {
	return version
}
