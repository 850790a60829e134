package sync

import "github.com/pkg/errors"

// ErrInvalidPeerID is a protocol error: an establish message carried a
// peerId that isn't a validated decimal identifier.
var ErrInvalidPeerID = errors.New("sync: invalid peerId")

// ErrUnknownMessageKind is a protocol error: a decoded message carried a
// Kind value the reducer has no case for.
var ErrUnknownMessageKind = errors.New("sync: unknown message kind")

// ErrHeartbeatAlreadyStarted / ErrHeartbeatAlreadyStopped name the heartbeat
// no-op cases: starting a running heartbeat and stopping a stopped one.
// StartHeartbeat and StopHeartbeat return nil in those cases, so neither
// error is returned by them.
var (
	ErrHeartbeatAlreadyStarted = errors.New("sync: heartbeat already started")
	ErrHeartbeatAlreadyStopped = errors.New("sync: heartbeat already stopped")
)
