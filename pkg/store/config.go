package store

import (
	"fmt"

	"github.com/oursky/experiment-runner/pkg/utils/defaults"

	"go.uber.org/zap"
)

type Type string

const (
	TypeInMemory Type = "InMemory"
	TypePostgres Type = "Postgres"
	TypeSQLite   Type = "SQLite"
)

type Config struct {
	Type         Type   `toml:"type" validate:"required,oneof=InMemory Postgres SQLite"`
	DSN          string `toml:"dsn" validate:"required_unless=Type InMemory"`
	MaxOpenConns *int   `toml:"maxOpenConns,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetMaxOpenConns() int {
	if c.Type == TypeSQLite {
		return 1
	}
	return defaults.Value(c.MaxOpenConns, 10)
}

func NewStore(logger *zap.Logger, config *Config) (Store, error) {
	switch config.Type {
	case TypeInMemory:
		return NewInMemoryStore(), nil

	case TypePostgres:
		return NewSQLStore(logger, "postgres", config.DSN, config.GetMaxOpenConns())

	case TypeSQLite:
		return NewSQLStore(logger, "sqlite3", config.DSN, config.GetMaxOpenConns())
	}
	return nil, fmt.Errorf("invalid store type: %s", config.Type)
}
