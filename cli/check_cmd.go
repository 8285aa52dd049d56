package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	tgerrors "github.com/twitter/tollgate/common/errors"
	"github.com/twitter/tollgate/limits"
)

type checkCmd struct {
	cfg configFlags
}

func (c *checkCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "check [concurrency_limits]",
		Short: "show which configured limit each name in a concurrency_limits attribute resolves to",
		Args:  cobra.ExactArgs(1),
	}
	c.cfg.register(r.Flags())
	return r
}

func (c *checkCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := c.cfg.load(cmd.Flags())
	if err != nil {
		return err
	}
	reqs, err := limits.ParseRequests(args[0])
	if err != nil {
		return tgerrors.NewError(err, tgerrors.SubmitFailureExitCode)
	}

	for _, r := range reqs {
		res := cfg.Limits.Resolve(r.Name)
		line := fmt.Sprintf("%s: weight %s, capacity %s (%s)", r.Name, formatWeight(r.Weight), formatCapacity(res.Capacity), res.Source)
		if res.Ambiguous() {
			line += fmt.Sprintf(", no default for bucket %s", res.Bucket)
		}
		if !limits.IsUnlimited(res.Capacity) && r.Weight > res.Capacity {
			line += ", can never run"
		}
		fmt.Fprintln(cl.out, line)
	}
	if n, bounded := cfg.Limits.MaxConcurrent(reqs); bounded {
		fmt.Fprintf(cl.out, "at most %d such jobs at once\n", n)
	} else {
		fmt.Fprintln(cl.out, "no limit on such jobs")
	}
	return nil
}
