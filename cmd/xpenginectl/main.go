// Command xpenginectl is the operator CLI: it records activities by hand,
// inspects users and runs the maintenance jobs once.
package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	top := flag.NewFlagSet("xpenginectl", flag.ContinueOnError)
	top.SetOutput(stderr)
	c := &cli{out: stdout}
	top.StringVar(&c.configFile, "config", "", "path to a JSON config file")
	top.StringVar(&c.profile, "profile", "", "named config profile (development, testing, staging, production)")
	if err := top.Parse(args); err != nil {
		return int(subcommands.ExitUsageError)
	}

	cdr := subcommands.NewCommander(top, "xpenginectl")
	cdr.Output = stdout
	cdr.Error = stderr
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")

	cdr.Register(&recordCmd{cli: c}, "activity")
	cdr.Register(&statusCmd{cli: c}, "activity")
	cdr.Register(&topCmd{cli: c}, "activity")
	cdr.Register(&sweepCmd{cli: c}, "maintenance")
	cdr.Register(&resetCmd{cli: c, period: "weekly"}, "maintenance")
	cdr.Register(&resetCmd{cli: c, period: "monthly"}, "maintenance")
	cdr.Register(&configCmd{cli: c}, "")

	return int(cdr.Execute(ctx))
}
