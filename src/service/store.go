package service

import (
	"context"
	"fmt"
	"io"

	"github.com/mosaicnetworks/callrelay/src/mailbox"
)

const (
	// InmemBackend keeps the mailbox in process memory
	InmemBackend = "inmem"
	// RedisBackend keeps the mailbox in redis
	RedisBackend = "redis"
	// PostgresBackend keeps the mailbox in PostgreSQL
	PostgresBackend = "postgres"

	// RedisPrefix namespaces the relay's redis keys
	RedisPrefix = "callrelay"
)

// StoreConfig selects and configures the relay's Board.
type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
}

// OpenBoard opens the Board named by conf.Backend. The returned Closer
// releases its connections.
func OpenBoard(ctx context.Context, conf StoreConfig) (mailbox.Board, io.Closer, error) {
	switch conf.Backend {
	case "", InmemBackend:
		return mailbox.NewInmemBoard(), nopCloser{}, nil
	case RedisBackend:
		s, err := NewRedisStore(ctx, conf.RedisAddr, conf.RedisPassword, conf.RedisDB, RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case PostgresBackend:
		s, err := NewPostgresStore(ctx, conf.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", conf.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
