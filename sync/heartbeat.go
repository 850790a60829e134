package sync

import (
	"time"

	"github.com/cometbft/docsync/libs/log"
	"github.com/cometbft/docsync/libs/service"
)

// heartbeatTimer periodically invokes fire, built on libs/service.BaseService
// the same way cometbft's mempool reactor runs its background routines.
// Start/Stop on an already-started/already-stopped timer are no-ops, even
// though BaseService itself returns an error for those — heartbeatTimer
// swallows it at this layer.
type heartbeatTimer struct {
	base     *service.BaseService
	interval time.Duration
	fire     func()
	stopCh   chan struct{}
}

func newHeartbeatTimer(logger log.Logger, interval time.Duration, fire func()) *heartbeatTimer {
	h := &heartbeatTimer{interval: interval, fire: fire, stopCh: make(chan struct{})}
	h.base = service.NewBaseService(logger, "heartbeat", h)
	return h
}

func (h *heartbeatTimer) Start() error {
	if err := h.base.Start(); err != nil {
		return nil // already started: no-op
	}
	return nil
}

func (h *heartbeatTimer) Stop() error {
	if err := h.base.Stop(); err != nil {
		return nil // already stopped: no-op
	}
	return nil
}

func (h *heartbeatTimer) OnStart() error {
	h.stopCh = make(chan struct{})
	go h.loop()
	return nil
}

func (h *heartbeatTimer) OnStop() {
	close(h.stopCh)
}

func (h *heartbeatTimer) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.fire()
		case <-h.stopCh:
			return
		}
	}
}
