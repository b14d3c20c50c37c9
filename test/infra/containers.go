package infra

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const pgImage = "postgres:16-alpine"

// PGContainer is a throwaway Postgres owned by one test process. The zero value
// stands for a database the harness did not start and must not stop.
type PGContainer struct {
	c *postgres.PostgresContainer
}

// StartContainer runs pgImage and returns it with a DSN for the quoteflow
// database inside it.
func StartContainer(ctx context.Context) (*PGContainer, string, error) {
	c, err := postgres.Run(ctx, pgImage,
		postgres.WithDatabase("quoteflow"),
		postgres.WithUsername("quoteflow"),
		postgres.WithPassword("quoteflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("infra: run %s: %w", pgImage, err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable", "application_name=quoteflow-test")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", fmt.Errorf("infra: container dsn: %w", err)
	}
	return &PGContainer{c: c}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.c == nil {
		return nil
	}
	return p.c.Terminate(ctx)
}
