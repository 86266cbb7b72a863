// Package version holds build metadata, set at build time via ldflags:
//
//	go build -ldflags "-X github.com/junyiacademy/learnlog/internal/version.Version=v1.2.0 -X github.com/junyiacademy/learnlog/internal/version.Commit=abc123"
package version

var (
	// Version is "dev" for development builds.
	Version = "dev"

	// Commit is the git commit the binary was built from, if known.
	Commit = ""
)

// String returns the version, with the short commit when set.
func String() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 7 {
		c = c[:7]
	}
	return Version + " (" + c + ")"
}
