package version

import "fmt"

// set via ldflags during release build
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

var FullVersion = fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
