package syncchan

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"simctl/shm"
	"simctl/util"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// scriptConn returns its reads in order, then times out. Writes fail with
// writeErr once it is set.
type scriptConn struct {
	mu       sync.Mutex
	reads    [][]byte
	written  []byte
	writeErr error
	closed   bool
}

func (c *scriptConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if len(c.reads) == 0 {
		return 0, timeoutErr{}
	}
	n := copy(b, c.reads[0])
	c.reads = c.reads[1:]
	return n, nil
}

func (c *scriptConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, b...)
	return len(b), nil
}

func (c *scriptConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.written)
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) LocalAddr() net.Addr                { return nil }
func (c *scriptConn) RemoteAddr() net.Addr               { return nil }
func (c *scriptConn) SetDeadline(t time.Time) error      { return nil }
func (c *scriptConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *scriptConn) SetWriteDeadline(t time.Time) error { return nil }

// scriptDialer hands out results in order and records each address.
type scriptDialer struct {
	mu      sync.Mutex
	results []func() (net.Conn, error)
	dialed  []string
}

func (d *scriptDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, addr)
	var next func() (net.Conn, error)
	if len(d.results) > 0 {
		next, d.results = d.results[0], d.results[1:]
	}
	d.mu.Unlock()
	if next == nil {
		return nil, syscall.ECONNREFUSED
	}
	return next()
}

func (d *scriptDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateLog(c *Channel) *stateLog {
	l := &stateLog{ch: make(chan State, 32)}
	c.Watch(func(s State) {
		l.mu.Lock()
		l.states = append(l.states, s)
		l.mu.Unlock()
		l.ch <- s
	})
	return l
}

func (l *stateLog) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-l.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func (l *stateLog) Get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func TestBrokenPipeReconnectsThenRediscovers(t *testing.T) {
	broken := &scriptConn{writeErr: syscall.EPIPE}
	dialer := &scriptDialer{results: []func() (net.Conn, error){
		func() (net.Conn, error) { return broken, nil },
	}}

	seg := shm.NewMemory()
	c := New(Options{
		Sources:   []Source{&Static{Host: "10.1.1.5", Port: 50200}},
		Dialer:    dialer,
		PassDelay: time.Hour,
		Segment:   seg,
		Log:       zaptest.NewLogger(t),
	})
	states := newStateLog(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	states.waitFor(t, StateDiscovering)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []State{StateConnected, StateError, StateReconnecting, StateDiscovering}, states.Get())
	// discovery, then the same-address redial, then discovery again:
	dialed := dialer.Dialed()
	require.GreaterOrEqual(t, len(dialed), 2)
	assert.Equal(t, "10.1.1.5:50200", dialed[0])
	assert.Equal(t, "10.1.1.5:50200", dialed[1])
	assert.True(t, broken.closed)
	assert.True(t, c.EverConnected())
	assert.Equal(t, "10.1.1.5", seg.Data().Header.SimMgrIPAddr.Load())
}

func TestReconnectSucceedsOnSameAddress(t *testing.T) {
	first := &scriptConn{writeErr: syscall.EPIPE}
	second := &scriptConn{reads: [][]byte{[]byte("pulse")}}
	dialer := &scriptDialer{results: []func() (net.Conn, error){
		func() (net.Conn, error) { return first, nil },
		func() (net.Conn, error) { return second, nil },
	}}

	c := New(Options{
		Sources:   []Source{&Static{Host: "manager", Port: 40844}},
		Dialer:    dialer,
		PassDelay: time.Hour,
		Log:       zaptest.NewLogger(t),
	})
	states := newStateLog(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	states.waitFor(t, StateReconnecting)
	states.waitFor(t, StateConnected)
	require.Eventually(t, func() bool { return c.HeartCount() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"manager:40844", "manager:40844"}, dialer.Dialed())
	assert.Equal(t, "manager:40844", c.Addr())
}

func TestSessionCountsTicksAndProbes(t *testing.T) {
	conn := &scriptConn{reads: [][]byte{
		[]byte("pulse"),
		[]byte("breath"),
		[]byte("pulseVPC"),
		[]byte("statusPort:8080"),
		[]byte("version"),
	}}
	dialer := &scriptDialer{results: []func() (net.Conn, error){
		func() (net.Conn, error) { return conn, nil },
	}}

	seg := shm.NewMemory()
	c := New(Options{
		Sources: []Source{&Static{Host: "10.0.0.2", Port: 50200}},
		Dialer:  dialer,
		Segment: seg,
		Log:     zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return len(conn.Written()) > len(util.Version)
	}, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, uint64(2), c.HeartCount())
	assert.Equal(t, uint64(1), c.BreathCount())
	assert.Equal(t, int32(8080), seg.Data().Header.SimMgrStatusPort.Load())
	assert.Equal(t, util.Version+"P", conn.Written()[:len(util.Version)+1])
}

func TestMissingConfigScans(t *testing.T) {
	target, err := LoadConfigFile(t.TempDir()+"/simmgrName", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Target{}, target)

	sources := SourcesFor(target, []int{LinuxSyncPort, WVSSyncPort}, "eth0", nil)
	require.Len(t, sources, 1)
	_, ok := sources[0].(*Scan)
	assert.True(t, ok)
}

func TestDiscoveryNeverGivesUp(t *testing.T) {
	scan := &Scan{
		Interface: "eth0",
		Ports:     []int{LinuxSyncPort, WVSSyncPort},
		Addrs: func(string) ([]net.Addr, error) {
			return nil, errors.New("no such interface")
		},
	}
	c := New(Options{
		Sources:   []Source{scan},
		Dialer:    &scriptDialer{},
		PassDelay: time.Millisecond,
		Log:       zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Serve(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateDiscovering, c.State())
	assert.False(t, c.EverConnected())
}
