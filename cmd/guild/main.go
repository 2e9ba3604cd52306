// Command guild is the interactive operator console. It runs a company
// in-process and drives the scheduler from typed commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/company"
	"github.com/GoCodeAlone/guild/config"
	"github.com/GoCodeAlone/guild/internal/version"
)

func main() {
	var (
		configPath = flag.String("config", "guild.yaml", "path to company config file")
		verbose    = flag.Bool("v", false, "log scheduler and agent activity to stderr")
	)
	flag.Usage = usage
	flag.Parse()

	if err := run(*configPath, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `guild: operator console

Usage:
  guild [flags]

Flags:
  --config <path>  company config file (default: guild.yaml)
  -v               log activity to stderr

`+helpText)
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	co, err := company.New(cfg, company.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer co.Close() //nolint:errcheck

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "guild> ",
		HistoryFile:       filepath.Join(homeDir, ".guild-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close() //nolint:errcheck

	out := rl.Stdout()
	unsubscribe := co.Bus().Subscribe(cfg.Company.OutputTopic, func(_ context.Context, msg *comms.Message) error {
		printMessage(out, msg)
		return nil
	})
	defer unsubscribe()

	c := &console{co: co, sched: co.NewScheduler(), out: out}
	fmt.Fprintf(out, "guild %s: %s with %d agents. Type help for commands.\n",
		version.Version, co.Name(), len(co.Agents()))

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		cmd, err := parseCommand(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		// ^C while a command runs cancels that command only.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = c.execute(ctx, cmd)
		stop()
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", strings.TrimSpace(err.Error()))
		}
	}
	fmt.Fprintln(out, "Goodbye!")
	return nil
}
