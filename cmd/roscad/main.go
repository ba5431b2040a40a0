// roscad is a local driver for the savings-group engine: one process
// holds one in-memory store, and every command below operates against
// it for the life of that process. Run it interactively - each line of
// stdin is one command, dispatched the same way a shell invocation
// would be - so a full scenario (create-group, join-group,
// confirm-deposit, ...) can be driven end to end without standing up
// external infrastructure.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	luxlog "github.com/luxfi/log"

	"github.com/mypoolr/roscacore/internal/config"
	"github.com/mypoolr/roscacore/internal/engine"
	"github.com/mypoolr/roscacore/internal/logging"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/obsmetrics"
	"github.com/mypoolr/roscacore/internal/ports"
	"github.com/mypoolr/roscacore/internal/store/memstore"
)

// coreHandle is the process-wide handle commands.go reaches for; it
// exists so commands.go never needs to import memstore or engine
// construction details, only the already-built CoreContext.
type coreHandle struct {
	engine    *engine.CoreContext
	scheduler *inProcessScheduler
}

var app = &cli.App{
	Name:  "roscad",
	Usage: "drive a rotating savings group engine from the terminal",
	Commands: []*cli.Command{
		createGroupCommand,
		joinGroupCommand,
		confirmDepositCommand,
		recordContributionCommand,
		confirmContributionCommand,
		advanceRotationCommand,
		requestLeaveCommand,
		closeCycleCommand,
		auditCommand,
	},
}

func main() {
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't build viper: %s\n", err)
		os.Exit(1)
	}
	cfg, err := config.BuildConfig(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't build config: %s\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup("roscad", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't set up logging: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := obsmetrics.New()
	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, logger.With("component", "metrics"))
	}

	sched := newInProcessScheduler()
	eng := engine.New(engine.Deps{
		Store:         memstore.New(),
		Payments:      noopPayments{},
		Notifications: &logNotifier{logger: logger},
		Scheduler:     sched,
		Flags:         staticFlags{},
		AuditSink:     &logAudit{logger: logger},
		Metrics:       metrics,
		HolderID:      cfg.HolderID,
	})
	if err := eng.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start engine: %s\n", err)
		os.Exit(1)
	}
	defer eng.Stop(context.Background())

	core = &coreHandle{engine: eng, scheduler: sched}

	go eng.Locks().RunSweeper(ctx, cfg.SweepInterval, systemClock{})
	go drainTimerFires(ctx, eng, sched, logger.With("component", "timerfires"))

	runREPL(ctx, os.Stdin, os.Stdout, logger)
}

// systemClock satisfies ports.Clock for the sweeper goroutine; the
// engine itself defaults to the same thing when Deps.Clock is nil.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

var _ ports.Clock = systemClock{}

// serveMetrics exposes registry on addr until the process exits. A
// failure here is logged, not fatal: the engine still runs fine
// without a scrape endpoint.
func serveMetrics(addr string, registry *prometheus.Registry, logger luxlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "addr", addr, "err", err)
	}
}

// drainTimerFires feeds every armed scheduler fire into the engine,
// exactly as a production scheduler callback would.
func drainTimerFires(ctx context.Context, eng *engine.CoreContext, sched *inProcessScheduler, logger luxlog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case fire := <-sched.fires:
			if err := eng.HandleTimerFire(ctx, fire); err != nil {
				logger.Error("timer fire handling failed", "task_id", fire.TaskID, "err", err)
			}
		}
	}
}

// runREPL reads one command per line and dispatches it through app,
// the same argument shape a one-shot CLI invocation would receive.
func runREPL(ctx context.Context, in *os.File, out *os.File, logger luxlog.Logger) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "roscad ready; commands: create-group join-group confirm-deposit record-contribution confirm-contribution advance-rotation request-leave close-cycle audit exit")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		fields := strings.Fields(line)
		args := append([]string{"roscad"}, fields...)
		if err := app.RunContext(ctx, args); err != nil {
			logger.Error("command failed", "line", line, "err", err)
		}
	}
}

func coreCreateGroupInput(name, adminRef string, amount decimal.Decimal, period model.RotationPeriod, memberLimit int, multiplier decimal.Decimal, tier model.Tier) engine.CreateGroupInput {
	return engine.CreateGroupInput{
		Name:               name,
		AdminRef:           adminRef,
		ContributionAmount: amount,
		Period:             period,
		MemberLimit:        memberLimit,
		DepositMultiplier:  multiplier,
		Tier:               tier,
	}
}
