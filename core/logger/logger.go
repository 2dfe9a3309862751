// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

// Logger represents the methods used to emit log messages. It is satisfied
// by a loggo.Logger.
type Logger interface {
	Criticalf(message string, args ...any)
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)
}
