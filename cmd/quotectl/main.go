// Command quotectl is a terminal client for the quotation approval workflow.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"quoteflow/auth"
	"quoteflow/config"
	"quoteflow/engine"
	"quoteflow/remote"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, args)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	switch engine.KindOf(err) {
	case engine.KindValidation:
		return 2
	case engine.KindAuthorization:
		return 3
	case engine.KindNotFound:
		return 4
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		return 3
	}
	return 1
}

// client is everything a command needs; it is assembled in Before and torn
// down in After.
type client struct {
	cfg     config.Config
	log     *logrus.Logger
	session *auth.Session
	engine  *engine.Engine
	stdout  io.Writer
	closers []func() error
}

func newApp(stdout, stderr io.Writer) *cli.App {
	c := &client{stdout: stdout}

	return &cli.App{
		Name:      "quotectl",
		Usage:     "review, approve and discuss quotations",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Usage: "dotenv file to load", Value: ".env"},
			&cli.StringFlag{Name: "api-url", Usage: "remote store base URL (overrides QUOTEFLOW_API_URL)"},
			&cli.StringFlag{Name: "session-backend", Usage: "memory, sqlite, postgres or redis"},
		},
		Before: func(cctx *cli.Context) error {
			return c.setup(cctx, stderr)
		},
		After: func(*cli.Context) error {
			return c.teardown()
		},
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			loginCommand(c),
			logoutCommand(c),
			whoamiCommand(c),
			switchRoleCommand(c),
			listCommand(c),
			showCommand(c),
			statusCommand(c, "approve"),
			statusCommand(c, "reject"),
			editCommand(c),
			commentCommand(c),
			replyCommand(c),
		},
	}
}

func (c *client) setup(cctx *cli.Context, stderr io.Writer) error {
	cfg, err := config.Load(cctx.String("env-file"))
	if err != nil {
		return err
	}
	if v := cctx.String("api-url"); v != "" {
		cfg.APIURL = v
	}
	if v := cctx.String("session-backend"); v != "" {
		cfg.SessionBackend = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	c.log = log

	kv, closeKV, err := openSessionStore(cctx.Context, cfg)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, closeKV)

	session, err := auth.Restore(cctx.Context, kv)
	if err != nil {
		return err
	}
	c.session = session

	store, err := remote.NewHTTPStore(cfg.APIURL, cfg.HTTPTimeout)
	if err != nil {
		return err
	}
	c.engine = engine.New(store, session).
		WithLogger(log).
		WithPageSize(cfg.PageSize).
		WithStaleAfter(cfg.StaleAfter)
	return nil
}

func (c *client) teardown() error {
	var errs []error
	if c.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPTimeout)
		errs = append(errs, c.engine.Close(ctx))
		cancel()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}
