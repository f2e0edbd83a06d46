package logging

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// NewGormLogger routes gorm's query log into the shared logrus stream so store
// traffic carries the same channel/run_id/request_id fields as the sync and
// feed paths (injected by the context hook). Queries crossing slowThreshold
// surface at Warn.
func NewGormLogger(l *logrus.Logger, slowThreshold time.Duration) gormlogger.Interface {
	lvl := gormlogger.Warn
	if l.IsLevelEnabled(logrus.DebugLevel) {
		// Debug mode traces every statement.
		lvl = gormlogger.Info
	}
	return &dbLogger{log: l, slow: slowThreshold, level: lvl}
}

type dbLogger struct {
	log   *logrus.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func (d *dbLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	nd := *d
	nd.level = level
	return &nd
}

func (d *dbLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if d.level >= gormlogger.Info {
		d.log.WithContext(ctx).Infof("storage: "+msg, data...)
	}
}

func (d *dbLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if d.level >= gormlogger.Warn {
		d.log.WithContext(ctx).Warnf("storage: "+msg, data...)
	}
}

func (d *dbLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if d.level >= gormlogger.Error {
		d.log.WithContext(ctx).Errorf("storage: "+msg, data...)
	}
}

// Trace logs one executed statement. Record-not-found is not treated as a
// query failure: dedup checks and media lookups miss routinely, and the 404
// path reports it on its own terms.
func (d *dbLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if d.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	elapsedMs := float64(elapsed.Nanoseconds()) / 1e6

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && d.level >= gormlogger.Error:
		sql, rows := fc()
		d.log.WithContext(ctx).WithFields(logrus.Fields{
			"duration_ms": elapsedMs,
			"rows":        rows,
			"sql":         sql,
		}).WithError(err).Error("storage: query failed")
	case d.slow != 0 && elapsed > d.slow && d.level >= gormlogger.Warn:
		sql, rows := fc()
		d.log.WithContext(ctx).WithFields(logrus.Fields{
			"duration_ms":  elapsedMs,
			"rows":         rows,
			"sql":          sql,
			"slow":         true,
			"threshold_ms": float64(d.slow.Nanoseconds()) / 1e6,
		}).Warn("storage: slow query")
	case d.level == gormlogger.Info:
		sql, rows := fc()
		d.log.WithContext(ctx).WithFields(logrus.Fields{
			"duration_ms": elapsedMs,
			"rows":        rows,
			"sql":         sql,
		}).Debug("storage: query")
	}
}
