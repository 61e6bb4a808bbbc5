package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	connectAttempts   = 5
	connectRetryDelay = time.Second
)

// Open connects through the pgx stdlib driver. The first ping is retried so
// the API can start alongside its database container.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := pingWithRetry(ctx, db, connectAttempts, connectRetryDelay); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type pingContexter interface {
	PingContext(ctx context.Context) error
}

func pingWithRetry(ctx context.Context, db pingContexter, attempts int, delay time.Duration) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(delay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("ping db after %d attempts: %w", attempts, err)
}
