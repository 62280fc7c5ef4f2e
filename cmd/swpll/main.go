// Command swpll runs, simulates and tests software phase-locked loops.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/usnistgov/swpll"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

func setBuildInfo() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	swpll.Build.Date = buildDate
	swpll.Build.Githash = githash
	swpll.Build.Gitdate = gitdate
	swpll.Build.Summary = fmt.Sprintf("SWPLL version %s (git commit %s of %s)", swpll.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		swpll.Build.Host = host
	} else {
		swpll.Build.Host = "host not detected"
	}
}

func main() {
	setBuildInfo()
	Execute()
}
