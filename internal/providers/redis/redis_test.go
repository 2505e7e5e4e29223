package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerHookLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hook := &loggerHook{provider: &RedisProvider{logger: zap.New(core).Sugar()}}
	ctx := context.Background()

	ping := redis.NewStatusCmd(ctx, "ping")
	hook.log("Redis command", ping, time.Millisecond, nil)
	assert.Zero(t, logs.Len(), "successful pings are not logged")

	miss := redis.NewStringCmd(ctx, "get", "messages:live:3:limit:500")
	hook.log("Redis command", miss, time.Millisecond, redis.Nil)

	failed := redis.NewIntCmd(ctx, "incr", "messages:live:gen")
	hook.log("Redis command", failed, time.Millisecond, errors.New("connection refused"))

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "Redis command missed", entries[0].Message)
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
		assert.Equal(t, "incr", entries[1].ContextMap()["command"])
	}
}
