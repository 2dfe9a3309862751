// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"
	"strings"
	"sync"

	gc "gopkg.in/check.v1"

	"github.com/canonical/vetpay/core/logger"
)

// CheckLogger is a logger that writes every message to the test log and
// keeps a copy of it, so that tests can assert on best-effort failures.
type CheckLogger struct {
	c *gc.C

	mu      sync.Mutex
	entries []string
}

// NewCheckLogger returns a CheckLogger writing to the given test.
func NewCheckLogger(c *gc.C) *CheckLogger {
	return &CheckLogger{c: c}
}

var _ logger.Logger = (*CheckLogger)(nil)

func (l *CheckLogger) log(level, msg string, args ...any) {
	line := fmt.Sprintf(level+" "+msg, args...)
	l.mu.Lock()
	l.entries = append(l.entries, line)
	l.mu.Unlock()
	if l.c != nil {
		l.c.Log(line)
	}
}

// Criticalf is part of the logger.Logger interface.
func (l *CheckLogger) Criticalf(msg string, args ...any) { l.log("CRITICAL", msg, args...) }

// Errorf is part of the logger.Logger interface.
func (l *CheckLogger) Errorf(msg string, args ...any) { l.log("ERROR", msg, args...) }

// Warningf is part of the logger.Logger interface.
func (l *CheckLogger) Warningf(msg string, args ...any) { l.log("WARNING", msg, args...) }

// Infof is part of the logger.Logger interface.
func (l *CheckLogger) Infof(msg string, args ...any) { l.log("INFO", msg, args...) }

// Debugf is part of the logger.Logger interface.
func (l *CheckLogger) Debugf(msg string, args ...any) { l.log("DEBUG", msg, args...) }

// Tracef is part of the logger.Logger interface.
func (l *CheckLogger) Tracef(msg string, args ...any) { l.log("TRACE", msg, args...) }

// Contains reports whether any logged line contains the given text.
func (l *CheckLogger) Contains(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, text) {
			return true
		}
	}
	return false
}
