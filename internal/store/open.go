// Package store opens the entity cache backend named by a DSN.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/migrate"
	"github.com/and161185/gofulcrum/internal/repository"
	"github.com/and161185/gofulcrum/internal/repository/memory"
	"github.com/and161185/gofulcrum/internal/repository/postgres"
)

// MemoryDSN selects the in-process backend.
const MemoryDSN = "memory://"

// Open returns a ready store. Postgres DSNs are migrated before use.
func Open(ctx context.Context, dsn string, log *zap.Logger) (repository.Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("open store: empty dsn")
	case strings.HasPrefix(dsn, MemoryDSN):
		return memory.NewEntityRepo(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		if err := migrate.Up(ctx, dsn, log); err != nil {
			return nil, err
		}
		db, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return postgres.NewEntityRepo(db), nil
	default:
		return nil, fmt.Errorf("open store: unsupported dsn scheme in %q", redact(dsn))
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	return "..."
}
