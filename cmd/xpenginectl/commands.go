package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/subcommands"

	"xpengine/config"
	"xpengine/core"
	"xpengine/engine"
	"xpengine/gamify"
)

// cli carries the global flags shared by every command.
type cli struct {
	configFile string
	profile    string
	out        io.Writer
}

func (c *cli) loadConfig() (*config.Config, error) {
	switch {
	case c.configFile != "":
		return config.LoadFromFile(c.configFile)
	case c.profile != "":
		return config.LoadProfile(c.profile)
	default:
		return config.Load()
	}
}

// open builds an engine with synchronous dispatch so every event is handled
// before the command exits.
func (c *cli) open(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
		return nil, nil, err
	}
	cfg.Notifications.DispatchMode = "sync"
	logger := config.NewLogger(config.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     "text",
		Output:     "stderr",
		Attributes: cfg.Logging.Attributes,
	})
	storage, closeStorage, err := gamify.OpenStorage(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	eng, err := gamify.FromConfig(cfg, storage, gamify.WithLogger(logger))
	if err != nil {
		closeStorage()
		return nil, nil, err
	}
	return eng, func() {
		eng.Close()
		closeStorage()
	}, nil
}

func (c *cli) print(v interface{}) subcommands.ExitStatus {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("failed to write output", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// withEngine opens the engine, runs fn and prints its result.
func (c *cli) withEngine(ctx context.Context, fn func(*engine.Engine) (interface{}, error)) subcommands.ExitStatus {
	eng, closeAll, err := c.open(ctx)
	if err != nil {
		slog.Error("failed to open engine", "error", err)
		return subcommands.ExitFailure
	}
	defer closeAll()
	v, err := fn(eng)
	if err != nil {
		slog.Error("command failed", "error", err)
		return subcommands.ExitFailure
	}
	return c.print(v)
}

type recordCmd struct {
	*cli
	user      string
	action    string
	requestID string
	problems  int
	spend     int64
}

func (*recordCmd) Name() string     { return "record" }
func (*recordCmd) Synopsis() string { return "record one user activity" }
func (*recordCmd) Usage() string {
	return "record -user <id> -action <problem_attempt|solve|return|help> [-request-id <id>] [-problems n] [-spend n]\n"
}

func (r *recordCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.user, "user", "", "user id")
	f.StringVar(&r.action, "action", "", "action type")
	f.StringVar(&r.requestID, "request-id", "", "idempotency key")
	f.IntVar(&r.problems, "problems", 0, "problems solved")
	f.Int64Var(&r.spend, "spend", 0, "energy spent")
}

func (r *recordCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if r.user == "" || r.action == "" {
		fmt.Fprint(f.Output(), r.Usage())
		return subcommands.ExitUsageError
	}
	return r.withEngine(ctx, func(eng *engine.Engine) (interface{}, error) {
		return eng.RecordActivity(ctx, engine.ActivityRequest{
			UserID:         core.UserID(r.user),
			Action:         core.ActionType(r.action),
			ProblemsSolved: r.problems,
			EnergySpent:    r.spend,
			RequestID:      r.requestID,
		})
	})
}

type statusCmd struct {
	*cli
}

func (*statusCmd) Name() string           { return "status" }
func (*statusCmd) Synopsis() string       { return "print a user's progress, wallet, momentum and standing" }
func (*statusCmd) Usage() string          { return "status <user-id>\n" }
func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (s *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(f.Output(), s.Usage())
		return subcommands.ExitUsageError
	}
	return s.withEngine(ctx, func(eng *engine.Engine) (interface{}, error) {
		return eng.Status(ctx, core.UserID(f.Arg(0)))
	})
}

type topCmd struct {
	*cli
	n int
}

func (*topCmd) Name() string     { return "top" }
func (*topCmd) Synopsis() string { return "print the weekly leaderboard" }
func (*topCmd) Usage() string    { return "top [-n 10]\n" }

func (t *topCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&t.n, "n", 10, "number of entries")
}

func (t *topCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return t.withEngine(ctx, func(eng *engine.Engine) (interface{}, error) {
		if err := eng.RebuildLeaderboard(ctx); err != nil {
			return nil, err
		}
		return eng.WeeklyTop(t.n), nil
	})
}

type sweepCmd struct {
	*cli
}

func (*sweepCmd) Name() string           { return "sweep" }
func (*sweepCmd) Synopsis() string       { return "run the momentum decay sweep once" }
func (*sweepCmd) Usage() string          { return "sweep\n" }
func (*sweepCmd) SetFlags(*flag.FlagSet) {}

func (s *sweepCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return s.withEngine(ctx, func(eng *engine.Engine) (interface{}, error) {
		return eng.RunDecaySweep(ctx)
	})
}

type resetCmd struct {
	*cli
	period string
}

func (r *resetCmd) Name() string         { return "reset-" + r.period }
func (r *resetCmd) Synopsis() string     { return "zero " + r.period + " league points for every user" }
func (r *resetCmd) Usage() string        { return r.Name() + "\n" }
func (*resetCmd) SetFlags(*flag.FlagSet) {}

func (r *resetCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return r.withEngine(ctx, func(eng *engine.Engine) (interface{}, error) {
		reset := eng.ResetMonthly
		if r.period == "weekly" {
			reset = eng.ResetWeekly
		}
		n, err := reset(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"reset": n}, nil
	})
}

type configCmd struct {
	*cli
}

func (*configCmd) Name() string           { return "config" }
func (*configCmd) Synopsis() string       { return "print the effective configuration with secrets redacted" }
func (*configCmd) Usage() string          { return "config\n" }
func (*configCmd) SetFlags(*flag.FlagSet) {}

func (c *configCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	cfg, err := c.loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.out, cfg.String())
	return subcommands.ExitSuccess
}
