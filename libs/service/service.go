// Package service provides the start/stop lifecycle embedded by every
// long-running docsync component, mirroring cometbft's libs/service.BaseService.
package service

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cometbft/docsync/libs/log"
)

// ErrAlreadyStarted is returned by Start when the service is already running.
var ErrAlreadyStarted = errors.New("already started")

// ErrAlreadyStopped is returned by Stop when the service is not running.
var ErrAlreadyStopped = errors.New("already stopped")

// Service mirrors the subset of cometbft's libs/service.Service used here.
type Service interface {
	Start() error
	Stop() error
	IsRunning() bool
	Quit() <-chan struct{}
	String() string
	SetLogger(log.Logger)
}

// Impl is implemented by the embedder to receive lifecycle callbacks.
type Impl interface {
	OnStart() error
	OnStop()
}

// BaseService implements Service around an Impl, the same shape as
// cometbft's BaseService embedded by every Reactor.
type BaseService struct {
	Logger log.Logger
	name   string
	quit   chan struct{}

	started uint32
	stopped uint32

	impl Impl
}

// NewBaseService constructs a BaseService. impl receives OnStart/OnStop callbacks.
func NewBaseService(logger log.Logger, name string, impl Impl) *BaseService {
	if logger == nil {
		logger = log.NopLogger()
	}
	return &BaseService{
		Logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start transitions the service from idle to running, invoking OnStart.
func (bs *BaseService) Start() error {
	if atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		if atomic.LoadUint32(&bs.stopped) == 1 {
			bs.Logger.Error("not starting service; already stopped", "service", bs.name)
			return ErrAlreadyStopped
		}
		bs.Logger.Info("starting service", "service", bs.name)
		if err := bs.impl.OnStart(); err != nil {
			atomic.StoreUint32(&bs.started, 0)
			return errors.Wrapf(err, "OnStart failed for %s", bs.name)
		}
		return nil
	}
	bs.Logger.Debug("not starting service; already started", "service", bs.name)
	return ErrAlreadyStarted
}

// Stop transitions the service to stopped, invoking OnStop and closing Quit().
func (bs *BaseService) Stop() error {
	if atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		bs.Logger.Info("stopping service", "service", bs.name)
		bs.impl.OnStop()
		close(bs.quit)
		return nil
	}
	bs.Logger.Debug("not stopping service; already stopped", "service", bs.name)
	return ErrAlreadyStopped
}

// IsRunning reports whether Start has succeeded and Stop has not yet been called.
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Quit returns a channel closed when the service stops.
func (bs *BaseService) Quit() <-chan struct{} { return bs.quit }

// SetLogger replaces the logger used by this service.
func (bs *BaseService) SetLogger(l log.Logger) { bs.Logger = l }

// String implements fmt.Stringer.
func (bs *BaseService) String() string { return fmt.Sprintf("%s{running=%v}", bs.name, bs.IsRunning()) }
