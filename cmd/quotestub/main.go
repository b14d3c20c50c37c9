// Command quotestub serves a development quotation backend compatible with the
// json-server db.json the web client was prototyped against.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"quoteflow/config"
	"quoteflow/db"
	"quoteflow/quotation"
	"quoteflow/stubserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp(os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stderr io.Writer) *cli.App {
	return &cli.App{
		Name:  "quotestub",
		Usage: "run the development quotation REST backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env"},
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides QUOTEFLOW_STUB_ADDR)"},
			&cli.StringFlag{Name: "seed", Usage: "db.json seed file (overrides QUOTEFLOW_STUB_SEED)"},
			&cli.BoolFlag{Name: "require-auth", Usage: "reject requests without a bearer token"},
		},
		Action: func(cctx *cli.Context) error {
			cfg, err := config.Load(cctx.String("env-file"))
			if err != nil {
				return err
			}
			if v := cctx.String("addr"); v != "" {
				cfg.StubAddr = v
			}
			if v := cctx.String("seed"); v != "" {
				cfg.StubSeed = v
			}
			log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
			if err != nil {
				return err
			}

			repo, closeRepo, err := openRepository(cctx.Context, cfg, log)
			if err != nil {
				return err
			}
			defer closeRepo()

			srv := stubserver.New(repo, log)
			if cctx.Bool("require-auth") {
				srv.WithAuthRequired()
			}
			return serve(cctx.Context, cfg.StubAddr, srv.Handler(), log)
		},
	}
}

// openRepository uses Postgres when DATABASE_URL is set and process memory
// otherwise. A seed file is loaded into either, skipping records that exist.
func openRepository(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (quotation.Repository, func(), error) {
	var seed []quotation.Quotation
	if cfg.StubSeed != "" {
		var err error
		if seed, err = stubserver.LoadSeedFile(cfg.StubSeed); err != nil {
			return nil, nil, err
		}
	}

	if cfg.DatabaseURL == "" {
		log.WithField("records", len(seed)).Info("using in-memory repository")
		return quotation.NewMemoryRepository(seed...), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := quotation.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	created := 0
	for _, q := range seed {
		if _, err := repo.Create(ctx, q); err != nil {
			if errors.Is(err, quotation.ErrDuplicate) {
				continue
			}
			pool.Close()
			return nil, nil, fmt.Errorf("quotestub: seed %s: %w", q.ID, err)
		}
		created++
	}
	log.WithField("seeded", created).Info("using postgres repository")
	return repo, pool.Close, nil
}

func serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("quotestub listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}
