// Package sync provides mutex types used throughout docsync. They are backed
// by go-deadlock in every build, so lock-ordering cycles are detected
// instead of silently deadlocking.
package sync

import (
	deadlock "github.com/sasha-s/go-deadlock"
)

// Mutex is a drop-in for sync.Mutex that participates in deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a drop-in for sync.RWMutex that participates in deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}
