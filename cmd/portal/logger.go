package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/uptrace/bun"
)

// loggerProvider hands out component loggers. *glog.BaseLogger and the
// providers built by glog.ProviderFromLogger both satisfy it.
type loggerProvider interface {
	GetLogger(name string) glog.Logger
}

var _ auth.Logger = glog.Logger(nil)

func newLogger(dev bool) *glog.BaseLogger {
	level := glog.Info
	if dev {
		level = glog.Trace
	}

	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

// queryLogger logs every bun query when DB_DEBUG is set.
type queryLogger struct {
	logger auth.Logger
}

var _ bun.QueryHook = queryLogger{}

func (q queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	took := time.Since(event.StartTime)
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		q.logger.Warn("query failed", "query", event.Query, "took", took, "error", event.Err)
		return
	}
	q.logger.Debug("query", "query", event.Query, "took", took)
}
