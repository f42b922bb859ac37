package audio

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const chanSize = 64

type Command interface {
	Execute(conn Conn) error
}

type Completion func(Command, error)

type CommandWithCompletion struct {
	Command    Command
	Completion Completion
}

type writeCommand struct {
	frame []byte
}

func (c *writeCommand) Execute(conn Conn) error { return conn.Write(c.frame) }

type queryResult struct {
	reply Reply
	err   error
}

type queryCommand struct {
	frame []byte
	reply Reply
}

func (c *queryCommand) Execute(conn Conn) (err error) {
	c.reply, err = conn.Query(c.frame)
	return
}

// CloseCommand closes the device connection.
type CloseCommand struct{}

func (c *CloseCommand) Execute(conn Conn) error { return nil }

// Queue serializes commands to a Conn on its own goroutine so that callers
// on the effector loop never wait on the serial line. Writes are dropped
// and counted when the queue is full.
type Queue struct {
	name string
	conn Conn
	log  *zap.Logger

	cq     chan CommandWithCompletion
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
}

func NewQueue(name string, conn Conn, log *zap.Logger) *Queue {
	if conn == nil {
		panic("conn must not be nil")
	}
	q := &Queue{
		name: name,
		conn: conn,
		log:  log.With(zap.String("device", name)),
		cq:   make(chan CommandWithCompletion, chanSize),
		done: make(chan struct{}),
	}
	go q.handleQueue()
	return q
}

func (q *Queue) Enqueue(cmd CommandWithCompletion) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrDeviceDisconnected
	}

	select {
	case q.cq <- cmd:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many commands were refused because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

func (q *Queue) Write(frame []byte) error {
	return q.Enqueue(CommandWithCompletion{Command: &writeCommand{frame: frame}})
}

// Query waits for the reply.
func (q *Queue) Query(frame []byte) (Reply, error) {
	ch := make(chan queryResult, 1)
	err := q.Enqueue(CommandWithCompletion{
		Command: &queryCommand{frame: frame},
		Completion: func(cmd Command, err error) {
			ch <- queryResult{reply: cmd.(*queryCommand).reply, err: err}
		},
	})
	if err != nil {
		return Reply{}, err
	}

	select {
	case r := <-ch:
		return r.reply, r.err
	case <-q.done:
		return Reply{}, ErrDeviceDisconnected
	}
}

// Close flushes queued commands, closes the Conn and waits for the queue
// goroutine to exit.
func (q *Queue) Close() error {
	select {
	case q.cq <- CommandWithCompletion{Command: &CloseCommand{}}:
	case <-q.done:
	}
	<-q.done
	return nil
}

func (q *Queue) markClosed() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) handleQueue() {
	defer close(q.done)

	var err error
	doClose := func() {
		q.markClosed()
		if err != nil {
			q.log.Warn("closing after error", zap.Error(err))
		}
		q.log.Debug("calling Close()")
		if cerr := q.conn.Close(); cerr != nil {
			q.log.Warn("close", zap.Error(cerr))
		}
	}
	defer doClose()

	for {
		pair := <-q.cq
		cmd := pair.Command
		if cmd == nil {
			return
		}

		terminal := false
		if _, ok := cmd.(*CloseCommand); ok {
			q.log.Debug("processing CloseCommand")
			terminal = true
		}

		err = cmd.Execute(q.conn)
		if err != nil && IsTerminal(err) {
			err = errors.Join(ErrDeviceDisconnected, err)
			terminal = true
		}
		if pair.Completion != nil {
			pair.Completion(cmd, err)
		} else if err != nil {
			q.log.Debug("command failed", zap.Error(err))
		}

		if terminal {
			return
		}
	}
}
