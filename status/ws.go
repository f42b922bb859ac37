package status

import (
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

// Socket is one websocket client. The server pushes snapshots to it; any
// frames the client sends are read and discarded.
type Socket struct {
	s    *Server
	req  *http.Request
	conn net.Conn

	mu     sync.Mutex
	closed bool
	// write channel:
	q chan []byte
}

func (s *Server) handleSocket(rw http.ResponseWriter, req *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(req, rw)
	if err != nil {
		s.log.Debug("upgrade", zap.Error(err))
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	k := newSocket(s, req, conn)
	s.appendSocket(k)

	// start with the current snapshot:
	if b, err := s.render(); err == nil {
		k.send(b)
	}
}

func newSocket(s *Server, req *http.Request, conn net.Conn) *Socket {
	k := &Socket{
		s:    s,
		req:  req,
		conn: conn,
		q:    make(chan []byte, 4),
	}

	go k.readHandler()
	go k.writeHandler()

	return k
}

func (s *Server) appendSocket(k *Socket) {
	s.socketsRw.Lock()
	defer s.socketsRw.Unlock()
	s.sockets = append(s.sockets, k)
}

func (s *Server) removeSocket(k *Socket) {
	s.socketsRw.Lock()
	defer s.socketsRw.Unlock()

	for i, sk := range s.sockets {
		if sk == k {
			s.sockets = append(s.sockets[:i], s.sockets[i+1:]...)
			break
		}
	}
}

func (s *Server) broadcast(b []byte) {
	s.socketsRw.RLock()
	sockets := append([]*Socket(nil), s.sockets...)
	s.socketsRw.RUnlock()

	for _, k := range sockets {
		k.send(b)
	}
}

func (s *Server) closeSockets() {
	s.socketsRw.RLock()
	sockets := append([]*Socket(nil), s.sockets...)
	s.socketsRw.RUnlock()

	for _, k := range sockets {
		_ = k.conn.Close()
	}
}

// send drops the update if the client is not keeping up.
func (k *Socket) send(b []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	select {
	case k.q <- b:
	default:
		k.s.log.Debug("socket slow, dropping update", zap.String("remote", k.req.RemoteAddr))
	}
}

func (k *Socket) readHandler() {
	// the reader is in control of the lifetime of the socket:
	defer func() {
		_ = k.conn.Close()
		k.s.removeSocket(k)

		k.mu.Lock()
		k.closed = true
		close(k.q)
		k.mu.Unlock()
	}()

	r := wsutil.NewReader(k.conn, ws.StateServerSide)
	for {
		hdr, err := r.NextFrame()
		if err != nil {
			k.s.log.Debug("websocket read", zap.Error(err))
			return
		}
		if hdr.OpCode == ws.OpClose {
			return
		}
		if err := r.Discard(); err != nil {
			k.s.log.Debug("discard", zap.Error(err))
			return
		}
	}
}

func (k *Socket) writeHandler() {
	w := wsutil.NewWriter(k.conn, ws.StateServerSide, ws.OpText)

	for b := range k.q {
		if _, err := w.Write(b); err != nil {
			k.s.log.Debug("websocket write", zap.Error(err))
			continue
		}
		if err := w.Flush(); err != nil {
			k.s.log.Debug("websocket flush", zap.Error(err))
		}
	}
}
