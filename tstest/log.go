// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tstest provides utilities for use in unit tests.
package tstest

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
)

// MemLogger is a thread-safe in-memory log collector with a Logf
// method, for tests that want to assert on what was logged.
type MemLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (ml *MemLogger) Logf(format string, args ...any) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	fmt.Fprintf(&ml.buf, format, args...)
	if n := ml.buf.Len(); n == 0 || ml.buf.Bytes()[n-1] != '\n' {
		ml.buf.WriteByte('\n')
	}
}

func (ml *MemLogger) String() string {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.buf.String()
}

// Lines returns the logged lines, without trailing newlines.
func (ml *MemLogger) Lines() []string {
	s := strings.TrimSuffix(ml.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
