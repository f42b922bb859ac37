// Package syncchan keeps the heartbeat link to the simulation manager.
//
// The manager streams plain-text keywords over TCP: "pulse" (or
// "pulseVPC") once per heartbeat, "breath" once per breath, and the
// occasional "statusPort:<n>" and "version" request. The channel finds the
// manager, counts ticks and recovers from drops without ever giving up.
package syncchan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"simctl/metrics"
	"simctl/shm"
	"simctl/util"
)

type State int32

const (
	StateDiscovering State = iota
	StateConnected
	StateError
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "DISCOVERING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	case StateReconnecting:
		return "RECONNECTING"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Dialer opens the TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

const (
	DefaultConnectTimeout = 100 * time.Millisecond
	DefaultPassDelay      = 2 * time.Second
	DefaultReadTimeout    = time.Second

	readBufSize = 256
	probeByte   = 'P'
)

type Options struct {
	Sources []Source

	// Dialer defaults to a net.Dialer with ConnectTimeout.
	Dialer         Dialer
	ConnectTimeout time.Duration
	PassDelay      time.Duration
	ReadTimeout    time.Duration

	// Segment receives the manager address and status port. May be nil.
	Segment *shm.Segment
	// Peers remembers each connected address. May be nil.
	Peers PeerStore

	Log *zap.Logger
}

type Channel struct {
	opts Options
	log  *zap.Logger

	state       atomic.Int32
	heartCount  atomic.Uint64
	breathCount atomic.Uint64
	everConn    atomic.Bool

	mu       sync.Mutex
	addr     string
	watchers []func(State)
}

func New(opts Options) *Channel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PassDelay <= 0 {
		opts.PassDelay = DefaultPassDelay
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{Timeout: opts.ConnectTimeout}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Channel{opts: opts, log: opts.Log.Named("sync")}
}

func (c *Channel) String() string { return "syncchan" }

// HeartCount is the number of pulse ticks received so far.
func (c *Channel) HeartCount() uint64 { return c.heartCount.Load() }

// BreathCount is the number of breath ticks received so far.
func (c *Channel) BreathCount() uint64 { return c.breathCount.Load() }

func (c *Channel) State() State { return State(c.state.Load()) }

// EverConnected reports whether any connection has succeeded.
func (c *Channel) EverConnected() bool { return c.everConn.Load() }

// Addr is the address of the current or last manager.
func (c *Channel) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Watch registers fn to be called on every state change, from the
// channel's goroutine.
func (c *Channel) Watch(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Channel) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	metrics.SyncState.Set(float64(s))
	c.log.Info("state", zap.Stringer("from", old), zap.Stringer("to", s))

	c.mu.Lock()
	watchers := append([]func(State){}, c.watchers...)
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(s)
	}
}

// Serve runs until ctx is done. It never returns for any other reason.
func (c *Channel) Serve(ctx context.Context) error {
	c.setState(StateDiscovering)
	metrics.SyncState.Set(float64(StateDiscovering))

	for {
		conn, addr, err := c.discover(ctx)
		if err != nil {
			return err
		}

		for conn != nil {
			c.connected(conn, addr)
			err = c.session(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}

			c.log.Warn("link lost", zap.String("addr", addr), zap.Error(err))
			c.setState(StateError)
			conn = c.reconnect(ctx, addr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.setState(StateDiscovering)
	}
}

func (c *Channel) dial(ctx context.Context, addr string) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	return c.opts.Dialer.DialContext(dctx, "tcp", addr)
}

// discover tries every source in order until one candidate answers,
// sleeping PassDelay between full passes.
func (c *Channel) discover(ctx context.Context) (net.Conn, string, error) {
	for pass := 0; ; pass++ {
		seen := make(map[string]bool)
		for _, src := range c.opts.Sources {
			cands, err := src.Candidates(pass)
			if err != nil {
				c.log.Debug("source failed", zap.String("source", src.Name()), zap.Error(err))
				continue
			}
			for _, cand := range cands {
				if ctx.Err() != nil {
					return nil, "", ctx.Err()
				}
				if seen[cand.Addr] {
					continue
				}
				seen[cand.Addr] = true

				conn, err := c.dial(ctx, cand.Addr)
				if err != nil {
					continue
				}
				c.log.Info("found manager", zap.String("addr", cand.Addr), zap.String("source", cand.Source))
				return conn, cand.Addr, nil
			}
		}

		metrics.DiscoveryPasses.Inc()
		c.log.Debug("no manager found", zap.Int("pass", pass))
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(c.opts.PassDelay):
		}
	}
}

// reconnect redials the address that just failed once. A nil result sends
// the channel back to discovery.
func (c *Channel) reconnect(ctx context.Context, addr string) net.Conn {
	c.setState(StateReconnecting)
	conn, err := c.dial(ctx, addr)
	if err != nil {
		metrics.SyncReconnects.WithLabelValues("failed").Inc()
		c.log.Info("reconnect failed", zap.String("addr", addr), zap.Error(err))
		return nil
	}
	metrics.SyncReconnects.WithLabelValues("ok").Inc()
	return conn
}

func (c *Channel) connected(conn net.Conn, addr string) {
	c.mu.Lock()
	c.addr = addr
	c.mu.Unlock()
	c.everConn.Store(true)
	metrics.SyncConnects.Inc()

	host, _, err := net.SplitHostPort(addr)
	if ra, ok := conn.RemoteAddr().(*net.TCPAddr); ok && ra != nil {
		host, err = ra.IP.String(), nil
	}
	if err == nil && c.opts.Segment != nil {
		c.opts.Segment.Data().Header.SimMgrIPAddr.Store(host)
	}
	if c.opts.Peers != nil {
		if perr := c.opts.Peers.Remember(addr); perr != nil {
			c.log.Warn("remember peer", zap.Error(perr))
		}
	}

	c.setState(StateConnected)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout() || errors.Is(err, os.ErrDeadlineExceeded)
}

// session reads until a probe or reply write fails. Every read that
// returns no data is followed by a one-byte probe.
func (c *Channel) session(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, readBufSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if werr := c.handle(conn, buf[:n]); werr != nil {
				return werr
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		if err != nil && !isTimeout(err) && !errors.Is(err, io.EOF) {
			c.log.Debug("read", zap.Error(err))
		}

		metrics.SyncProbes.Inc()
		if _, werr := conn.Write([]byte{probeByte}); werr != nil {
			return werr
		}
		if errors.Is(err, io.EOF) {
			// the peer half-closed; the next probe will fail
			time.Sleep(time.Millisecond)
		}
	}
}

func (c *Channel) handle(conn net.Conn, b []byte) error {
	m := ParseTokens(b)
	if m.Events == 0 {
		c.log.Debug("unrecognized message", zap.ByteString("msg", b))
		return nil
	}

	if m.Events.Has(EventPulse) {
		c.heartCount.Add(1)
		metrics.SyncEvents.WithLabelValues("pulse").Inc()
	}
	if m.Events.Has(EventBreath) {
		c.breathCount.Add(1)
		metrics.SyncEvents.WithLabelValues("breath").Inc()
	}
	if m.Events.Has(EventStatusPort) {
		metrics.SyncEvents.WithLabelValues("statusPort").Inc()
		if c.opts.Segment != nil {
			c.opts.Segment.Data().Header.SimMgrStatusPort.Store(int32(m.StatusPort))
		}
		c.log.Info("manager status port", zap.Int("port", m.StatusPort))
	}
	if m.Events.Has(EventVersion) {
		metrics.SyncEvents.WithLabelValues("version").Inc()
		if _, err := conn.Write([]byte(util.Version)); err != nil {
			return err
		}
	}
	return nil
}
