// Package cli implements the tollgate command line: running a local pool,
// checking how limits resolve, and reading back a run's journal.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	clog "github.com/twitter/tollgate/common/log"
)

// Implements the tollgate command tree.
type CLI struct {
	rootCmd  *cobra.Command
	out      io.Writer
	logLevel string
}

func NewCLI(out io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	c := &CLI{out: out}
	c.rootCmd = &cobra.Command{
		Use:           "tollgate",
		Short:         "tollgate runs jobs under concurrency limits on a local pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return clog.Configure(c.logLevel)
		},
	}
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "info", "log everything at this level and above (error|info|debug)")
	c.rootCmd.SetOut(out)

	c.addCmd(&runCmd{})
	c.addCmd(&checkCmd{})
	c.addCmd(&historyCmd{})
	return c
}

// Exec runs the command line in args (without the program name).
func (c *CLI) Exec(args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.Execute()
}

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(c *CLI, cmd *cobra.Command, args []string) error
}
