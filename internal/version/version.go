// Package version holds build identity constants.
package version

const (
	// Version is the daemon's release version.
	Version = "0.1.0"

	// Product is the daemon's user-facing product name.
	Product = "raddaemon"

	// Manufacturer identifies the project for diagnostic output.
	Manufacturer = "raddaemon project"
)
