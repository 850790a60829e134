// Package wsadapter is the real network transport for docsync: a
// gorilla/websocket adapter that dials out to remote peers and accepts
// inbound connections over plain HTTP upgrade, the same split cometbft's
// own rpc/jsonrpc/client and server use that library for.
//
// Each websocket connection becomes exactly one p2p.Channel of
// p2p.KindNetwork. Every frame on the wire is wire.EncodeFrame's
// header+CBOR-payload format, sent as a single websocket binary message —
// gorilla already preserves message boundaries, so the adapter does not
// need to buffer or split frames itself.
package wsadapter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cometbft/docsync/libs/log"
	docsync_sync "github.com/cometbft/docsync/libs/sync"
	"github.com/cometbft/docsync/p2p"
	"github.com/cometbft/docsync/wire"
)

const adapterType = "websocket"

// WriteTimeout bounds a single outbound frame write.
const WriteTimeout = 10 * time.Second

// Adapter dials and accepts websocket connections, each wired into mgr as a
// network channel.
type Adapter struct {
	mgr           *p2p.Manager
	log           log.Logger
	maxFrameBytes uint32
	upgrader      websocket.Upgrader

	mu    docsync_sync.Mutex
	conns map[p2p.ChannelID]*wsConn
}

// NewAdapter constructs a websocket adapter registered against mgr. Callers
// must still call mgr.AddAdapter(a) themselves: adapters are added
// explicitly, not auto-registered by construction.
func NewAdapter(mgr *p2p.Manager, logger log.Logger, maxFrameBytes uint32) *Adapter {
	if logger == nil {
		logger = log.NopLogger()
	}
	return &Adapter{
		mgr:           mgr,
		log:           logger,
		maxFrameBytes: maxFrameBytes,
		upgrader:      websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:         make(map[p2p.ChannelID]*wsConn),
	}
}

func (a *Adapter) Type() string { return adapterType }

// Stop closes every connection this adapter owns.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	conns := make([]*wsConn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.conns = make(map[p2p.ChannelID]*wsConn)
	a.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return nil
}

// Dial opens an outbound websocket connection to url and registers it as a
// new network channel. correlationID is a locally generated uuid used only
// to tie together this dial's log lines; it never goes on the wire.
func (a *Adapter) Dial(ctx context.Context, url string) error {
	correlationID := uuid.NewString()
	a.log.Info("dialing peer", "url", url, "correlation_id", correlationID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", url)
	}
	a.adopt(conn, correlationID)
	return nil
}

// Upgrade promotes an inbound HTTP request to a websocket connection and
// registers it as a new network channel. Mount on the listening address
// docsyncd peers connect to.
func (a *Adapter) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "upgrading websocket connection")
	}
	a.adopt(conn, uuid.NewString())
	return nil
}

// adopt wires conn into mgr as a new channel, then runs its read and write
// pumps under one errgroup: forget(c) fires once, after both pumps have
// actually returned, rather than racing two independent goroutines against
// a single cleanup call.
func (a *Adapter) adopt(conn *websocket.Conn, correlationID string) {
	c := &wsConn{conn: conn, outbound: make(chan wire.Message, 64), correlationID: correlationID}
	c.ch = a.mgr.NewChannel(adapterType, p2p.KindNetwork, c.enqueue, c.close)

	a.mu.Lock()
	a.conns[c.ch.ID()] = c
	a.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return a.readLoop(c) })
	g.Go(func() error { return c.writeLoop() })
	go func() {
		_ = g.Wait()
		a.forget(c)
	}()

	a.mgr.Establish(c.ch)
}

func (a *Adapter) readLoop(c *wsConn) error {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			a.log.Debug("websocket read closed", "channel", c.ch.ID(), "correlation_id", c.correlationID, "err", err)
			c.close()
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msgs, err := wire.DecodeFrame(data, a.maxFrameBytes)
		if err != nil {
			a.log.Error("websocket frame decode failed", "channel", c.ch.ID(), "correlation_id", c.correlationID, "err", err)
			continue
		}
		for _, m := range msgs {
			a.mgr.Receive(c.ch.ID(), m)
		}
	}
}

func (a *Adapter) forget(c *wsConn) {
	a.mu.Lock()
	delete(a.conns, c.ch.ID())
	a.mu.Unlock()
	c.close()
	a.mgr.Remove(c.ch)
}

// wsConn owns one live websocket connection and serializes writes onto it
// through a single goroutine, the same pattern cometbft's rpc websocket
// client uses to avoid concurrent writer panics on *websocket.Conn.
type wsConn struct {
	conn          *websocket.Conn
	ch            *p2p.Channel
	outbound      chan wire.Message
	correlationID string

	closeOnce sync.Once
}

func (c *wsConn) enqueue(msg wire.Message) error {
	select {
	case c.outbound <- msg:
		return nil
	default:
		return errors.New("wsadapter: outbound buffer full")
	}
}

func (c *wsConn) writeLoop() error {
	for msg := range c.outbound {
		frame, err := wire.EncodeFrame(msg)
		if err != nil {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			c.close()
			return err
		}
	}
	return nil
}

func (c *wsConn) close() error {
	c.closeOnce.Do(func() {
		close(c.outbound)
		_ = c.conn.Close()
	})
	return nil
}
