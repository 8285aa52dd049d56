package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	tgerrors "github.com/twitter/tollgate/common/errors"
	"github.com/twitter/tollgate/journal"
)

type historyCmd struct {
	journal string
	jobID   string
}

func (c *historyCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "history",
		Short: "summarize a run recorded in a journal",
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.journal, "journal", "", "sqlite journal written by 'run --journal'")
	r.Flags().StringVar(&c.jobID, "job", "", "print the status changes of this job only")
	return r
}

func (c *historyCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	if c.journal == "" {
		return tgerrors.NewError(errors.New("--journal is required"), tgerrors.JournalFailureExitCode)
	}
	// Open would create it.
	if _, err := os.Stat(c.journal); err != nil {
		return tgerrors.NewError(errors.Wrap(err, "journal"), tgerrors.JournalFailureExitCode)
	}
	j, err := journal.Open(c.journal)
	if err != nil {
		return tgerrors.NewError(err, tgerrors.JournalFailureExitCode)
	}
	defer j.Close()

	if c.jobID != "" {
		events, err := j.JobHistory(c.jobID)
		if err != nil {
			return tgerrors.NewError(err, tgerrors.JournalFailureExitCode)
		}
		if len(events) == 0 {
			return tgerrors.NewError(errors.Errorf("no events for job %s", c.jobID), tgerrors.JournalFailureExitCode)
		}
		for _, ev := range events {
			line := fmt.Sprintf("%s %s -> %s", ev.Time.Format("15:04:05.000"), ev.From, ev.To)
			if ev.Submitted() {
				line = fmt.Sprintf("%s submitted", ev.Time.Format("15:04:05.000"))
			}
			if ev.Slot != "" {
				line += " on " + string(ev.Slot)
			}
			fmt.Fprintln(cl.out, line)
		}
		return nil
	}

	peak, err := j.PeakBusy()
	if err != nil {
		return tgerrors.NewError(err, tgerrors.JournalFailureExitCode)
	}
	byLimit, err := j.RejectionsByLimit()
	if err != nil {
		return tgerrors.NewError(err, tgerrors.JournalFailureExitCode)
	}
	fmt.Fprintf(cl.out, "peak busy slots: %d\n", peak)
	names := make([]string, 0, len(byLimit))
	for name := range byLimit {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintln(cl.out, "rejections:")
	}
	for _, name := range names {
		fmt.Fprintf(cl.out, "  %s: %d\n", name, byLimit[name])
	}
	return nil
}
