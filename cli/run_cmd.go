package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/twitter/tollgate/common/endpoints"
	tgerrors "github.com/twitter/tollgate/common/errors"
	"github.com/twitter/tollgate/common/stats"
	"github.com/twitter/tollgate/config"
	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/pool"
)

// Where a command gets its pool config: a file or a bundled preset, then flags.
type configFlags struct {
	path   string
	preset string
}

func (f *configFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.path, "config", "", "path of a KEY = VALUE config file")
	fs.StringVar(&f.preset, "preset", "", fmt.Sprintf("bundled config to use instead of a file, one of %v", config.PresetNames()))
}

func (f *configFlags) load(fs *pflag.FlagSet) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	switch {
	case f.path != "" && f.preset != "":
		err = errors.New("--config and --preset are exclusive")
	case f.preset != "":
		cfg, err = config.LoadPreset(f.preset, fs)
	default:
		cfg, err = config.Load(f.path, fs)
	}
	if err != nil {
		return config.Config{}, tgerrors.NewError(err, tgerrors.ConfigFailureExitCode)
	}
	return cfg, nil
}

type runCmd struct {
	cfg        configFlags
	limits     string
	count      int
	duration   string
	timeout    string
	executable string
	cpus       int
	memoryMB   int
	diskMB     int
	httpAddr   string
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "start a local pool, run a batch of jobs through it and report peak concurrency",
		Args:  cobra.NoArgs,
	}
	c.cfg.register(r.Flags())
	config.RegisterFlags(r.Flags())
	r.Flags().StringVar(&c.limits, "limits", "", "concurrency_limits of every job, e.g. XSW or small.license:2")
	r.Flags().IntVar(&c.count, "count", 1, "number of jobs to submit")
	r.Flags().StringVar(&c.duration, "duration", "5", "how long each job runs (seconds or duration)")
	r.Flags().StringVar(&c.timeout, "timeout", "10m", "give up waiting for the jobs after this long")
	r.Flags().StringVar(&c.executable, "executable", "sleep", "recorded as the jobs' executable")
	r.Flags().IntVar(&c.cpus, "request_cpus", 1, "cpus requested by each job")
	r.Flags().IntVar(&c.memoryMB, "request_memory", 100, "memory (MB) requested by each job")
	r.Flags().IntVar(&c.diskMB, "request_disk", 10, "disk (MB) requested by each job")
	r.Flags().StringVar(&c.httpAddr, "http_addr", "", "serve health, stats, limits and queue counts on this address while running")
	return r
}

func (c *runCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := c.cfg.load(cmd.Flags())
	if err != nil {
		return err
	}
	duration, err := config.ParseDuration(c.duration)
	if err != nil {
		return tgerrors.NewError(errors.Wrap(err, "--duration"), tgerrors.SubmitFailureExitCode)
	}
	timeout, err := config.ParseDuration(c.timeout)
	if err != nil {
		return tgerrors.NewError(errors.Wrap(err, "--timeout"), tgerrors.ConfigFailureExitCode)
	}
	reqs, err := limits.ParseRequests(c.limits)
	if err != nil {
		return tgerrors.NewError(err, tgerrors.SubmitFailureExitCode)
	}
	def := domain.JobDefinition{
		Executable:        c.executable,
		Args:              []string{fmt.Sprint(duration.Seconds())},
		RequestCpus:       c.cpus,
		RequestMemoryMB:   c.memoryMB,
		RequestDiskMB:     c.diskMB,
		ConcurrencyLimits: c.limits,
		Duration:          duration,
	}

	stat := stats.NilStatsReceiver()
	if c.httpAddr != "" {
		stat = stats.DefaultStatsReceiver()
	}
	p, err := pool.New(cfg, pool.WithStats(stat))
	if err != nil {
		return tgerrors.NewError(err, tgerrors.ConfigFailureExitCode)
	}
	if c.httpAddr != "" {
		server := serveAdmin(c.httpAddr, stat, p)
		defer server.Close()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p.Start(ctx)

	ids, err := p.Submit(def, c.count)
	if err != nil {
		p.Stop()
		return tgerrors.NewError(err, tgerrors.SubmitFailureExitCode)
	}
	log.WithFields(log.Fields{"count": len(ids), "limits": c.limits}).Info("Waiting for jobs")

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	waitErr := p.Wait(waitCtx, ids)
	cancel()
	stopErr := p.Stop()
	summary := p.Summary()
	printSummary(cl.out, summary)

	if waitErr != nil {
		return tgerrors.NewError(waitErr, tgerrors.TimeoutExitCode)
	}
	if allowed, bounded := cfg.Limits.MaxConcurrent(reqs); bounded && summary.PeakRunning > allowed {
		return tgerrors.NewError(
			errors.Errorf("%d jobs ran at once, limits %q allow %d", summary.PeakRunning, c.limits, allowed),
			tgerrors.LimitExceededExitCode)
	}
	if stopErr != nil && cfg.Journal != "" {
		return tgerrors.NewError(stopErr, tgerrors.JournalFailureExitCode)
	}
	return stopErr
}

func printSummary(out io.Writer, s pool.Summary) {
	fmt.Fprintf(out, "jobs: %d completed, %d removed, %d unfinished\n",
		s.Counts[domain.Completed], s.Counts[domain.Removed], s.Counts[domain.Idle]+s.Counts[domain.Running])
	fmt.Fprintf(out, "peak running jobs: %d\n", s.PeakRunning)
	fmt.Fprintf(out, "peak busy slots: %d\n", s.PeakBusy)
	if len(s.Rejections) > 0 {
		fmt.Fprintln(out, "rejections:")
		for _, name := range s.RejectedLimits() {
			fmt.Fprintf(out, "  %s: %d\n", name, s.Rejections[name])
		}
	}
	if len(s.Limits) > 0 {
		fmt.Fprintln(out, "limits:")
		for _, l := range s.Limits {
			fmt.Fprintf(out, "  %s: %s/%s (%s)\n", l.Name, formatWeight(l.Usage), formatCapacity(l.Capacity), l.Source)
		}
	}
}

func formatWeight(w float64) string {
	return fmt.Sprintf("%g", w)
}

func formatCapacity(c float64) string {
	if limits.IsUnlimited(c) {
		return "unlimited"
	}
	return formatWeight(c)
}

type limitView struct {
	Name     string  `json:"name"`
	Usage    float64 `json:"usage"`
	Capacity string  `json:"capacity"`
	Source   string  `json:"source"`
}

func serveAdmin(addr string, stat stats.StatsReceiver, p *pool.Pool) *endpoints.AdminServer {
	server := endpoints.NewAdminServer(addr, stat)
	server.AddJSON("/admin/limits.json", func() interface{} {
		views := []limitView{}
		for _, l := range p.Ledger.Snapshot() {
			views = append(views, limitView{l.Name, l.Usage, formatCapacity(l.Capacity), l.Source.String()})
		}
		return views
	})
	server.AddJSON("/admin/queue.json", func() interface{} {
		counts := map[string]int{}
		for status, n := range p.Queue.Counts() {
			counts[status.String()] = n
		}
		return counts
	})
	go func() {
		if err := server.Serve(); err != nil {
			log.WithFields(log.Fields{"addr": addr, "err": err}).Error("Admin http server failed")
		}
	}()
	return server
}
