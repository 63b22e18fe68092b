package version

// Version represents the current version of pulse
const Version = "0.4.0"

// BuildVersion returns the version string for display
func BuildVersion() string {
	return "pulse version " + Version
}

// APIVersion returns just the version number for API responses
func APIVersion() string {
	return Version
}
