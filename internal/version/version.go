package version

import "fmt"

var (
	// Version is the current pipeline version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the value stamped into the pipeline_version provenance attribute.
// BuildTime is left out so that two builds of the same commit stamp identical products.
func String() string {
	if GitSHA == "" || GitSHA == "unknown" {
		return Version
	}
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("%s+%s", Version, sha)
}
