// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package logger configures loggo for the vetpay daemon.
package logger

import (
	"io"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"

	corelogger "github.com/canonical/vetpay/core/logger"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
)

// Config describes where and what to log.
type Config struct {
	// LoggingConfig is a loggo specification such as
	// "<root>=INFO;vetpay.collection=DEBUG".
	LoggingConfig string

	// LogFile is the path of the rotated log file. When empty the
	// default writer, stderr, is kept.
	LogFile string

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// Configure applies the logging configuration. The returned closer
// releases the log file, if any.
func Configure(cfg Config) (io.Closer, error) {
	if cfg.LoggingConfig != "" {
		if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
			return nil, errors.Annotatef(err, "applying logging config %q", cfg.LoggingConfig)
		}
	}
	if cfg.LogFile == "" {
		return io.NopCloser(nil), nil
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = defaultMaxBackups
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		_ = writer.Close()
		return nil, errors.Annotatef(err, "writing logs to %q", cfg.LogFile)
	}
	GetLogger("vetpay.logger").Debugf("created rotating log file %q with max size %d MB and max backups %d",
		writer.Filename, writer.MaxSize, writer.MaxBackups)
	return writer, nil
}

// GetLogger returns the named logger.
func GetLogger(name string) corelogger.Logger {
	return loggo.GetLogger(name)
}
