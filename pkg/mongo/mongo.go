// Package mongo bootstraps the MongoDB client used by the stores.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	ErrConnectFailed     = errors.New("failed to connect to mongo")
	ErrHealthcheckFailed = errors.New("mongo healthcheck failed")
)

// Config describes the MongoDB connection. The reconciliation engine
// requires a replica set (or mongos) because it uses multi-document
// transactions.
type Config struct {
	ConnectionURL  string        `env:"MONGODB_URL,required"`
	Database       string        `env:"MONGODB_DATABASE" envDefault:"billing"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
	MaxPoolSize    uint64        `env:"MONGODB_MAX_POOL_SIZE" envDefault:"100"`
	RetryAttempts  int           `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`
}

// Connect establishes a verified connection, retrying per the config.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.ConnectionURL).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetRetryWrites(true).
		SetRetryReads(true)

	var lastErr error
	for attempt := 0; attempt < max(cfg.RetryAttempts, 1); attempt++ {
		client, err := mongo.Connect(opts)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				return client, nil
			}
			_ = client.Disconnect(ctx)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnectFailed, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrConnectFailed, lastErr)
}

// Database connects and returns the configured database handle.
func Database(ctx context.Context, cfg Config) (*mongo.Database, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client.Database(cfg.Database), nil
}

// Healthcheck returns a readiness probe for the client.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
