package version

// version is the version of telnet-rtt.
//
// Release builds are expected to override this via build-time injection.
var version = "0.0.1"

// Version returns the version of telnet-rtt.
func Version() string {
	return version
}
