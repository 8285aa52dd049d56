package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/tollgate/cli"
	tgerrors "github.com/twitter/tollgate/common/errors"
)

// CLI binary to run jobs on a local concurrency limited pool
//	Supported commands: (see "-h" for all options)
//		run --limits XSW --count 10 [--config file | --preset name]
//		check [concurrency_limits]
//		history --journal file [--job id]
//	Global flags:
//		--log_level [<error|info|debug> level and above should be logged]
//	Exit codes are listed in common/errors.

func main() {
	err := cli.NewCLI(os.Stdout).Exec(os.Args[1:])
	if err == nil {
		return
	}
	code := tgerrors.ExitCodeOf(err)
	log.WithFields(log.Fields{"err": err, "exitCode": code}).Error("tollgate failed")
	os.Exit(int(code))
}
