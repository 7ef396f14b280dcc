package mgo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"NebulaChat/logger"
)

type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MaxRetry    int
}

// Open 建立 Mongo 连接（带退避重试 + ping），返回目标库句柄。
func Open(ctx context.Context, cfg Config) (*mongo.Database, error) {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 20
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize)

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetry; attempt++ {
		cli, err := mongo.Connect(ctx, opts)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err = cli.Ping(pingCtx, readpref.Primary())
			cancel()
			if err == nil {
				return cli.Database(cfg.Database), nil
			}
			_ = cli.Disconnect(context.Background())
		}
		lastErr = err
		logger.Warnf("[mgo] connect attempt %d failed: %v", attempt+1, err)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	return nil, errors.Wrap(lastErr, "mongo connect")
}
