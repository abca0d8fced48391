package versioning

var (
	// Version is the release version of tracertl.
	// Commit is the git commit that the binary was built on
	// BuildTime is the timestamp of the build
	// Embedded by --ldflags on build time
	// Versioning should follow the SemVer guidelines
	// https://semver.org/
	Version   = "v0.1.0-dev"
	Branch    string
	Commit    string
	BuildTime string
)
