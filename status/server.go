// Package status serves the effector's view of the simulator: a JSON
// snapshot of the shared record, a websocket pushing the same snapshot,
// Prometheus metrics and a gRPC health service tracking the manager link.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"simctl/effector"
	"simctl/shm"
	"simctl/syncchan"
	"simctl/util"
)

const DefaultPushInterval = time.Second

// SyncLink is the part of the sync channel the status server reports on.
type SyncLink interface {
	State() syncchan.State
	Addr() string
	EverConnected() bool
	HeartCount() uint64
	BreathCount() uint64
	Watch(fn func(syncchan.State))
}

// EffectorView reports the effector loop's outputs.
type EffectorView interface {
	Status() effector.Status
}

type Options struct {
	// Listen is the HTTP address. Empty disables HTTP.
	Listen string
	// GRPCListen is the gRPC health address. Empty disables gRPC.
	GRPCListen string

	Segment  *shm.Segment
	Sync     SyncLink
	Effector EffectorView

	PushInterval time.Duration
	Log          *zap.Logger
}

type Server struct {
	opts Options
	log  *zap.Logger
	mux  chi.Router

	health *healthService

	socketsRw sync.RWMutex
	sockets   []*Socket
}

func New(opts Options) *Server {
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	s := &Server{
		opts:    opts,
		log:     opts.Log.Named("status"),
		mux:     chi.NewRouter(),
		sockets: make([]*Socket, 0, 2),
	}
	s.health = newHealthService(opts.Sync, s.log)

	s.mux.Use(chimiddleware.Recoverer)
	s.mux.Get("/status", s.handleStatus)
	s.mux.Get("/ws/", s.handleSocket)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) String() string { return "status" }

// Handler exposes the HTTP routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Document builds the snapshot served on /status and pushed on /ws/.
func (s *Server) Document() (*structpb.Struct, error) {
	doc := map[string]any{"version": util.Version}

	if s.opts.Segment != nil {
		snap, err := toValue(s.opts.Segment.Data().Snapshot())
		if err != nil {
			return nil, err
		}
		for k, v := range snap {
			doc[k] = v
		}
	}
	if s.opts.Effector != nil {
		eff, err := toValue(s.opts.Effector.Status())
		if err != nil {
			return nil, err
		}
		doc["effector"] = eff
	}
	if l := s.opts.Sync; l != nil {
		doc["sync"] = map[string]any{
			"state":         l.State().String(),
			"addr":          l.Addr(),
			"everConnected": l.EverConnected(),
			"heartCount":    float64(l.HeartCount()),
			"breathCount":   float64(l.BreathCount()),
		}
	}
	return structpb.NewStruct(doc)
}

// toValue flattens v to the generic map form structpb accepts, keeping
// the json field names.
func toValue(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Server) render() ([]byte, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, fmt.Errorf("status: build document: %w", err)
	}
	return protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(doc)
}

func (s *Server) handleStatus(rw http.ResponseWriter, req *http.Request) {
	b, err := s.render()
	if err != nil {
		s.log.Warn("render", zap.Error(err))
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = rw.Write(b)
}

// Serve runs the HTTP server, the gRPC health server and the websocket
// push loop until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 2)

	if s.opts.Listen != "" {
		ln, err := net.Listen("tcp", s.opts.Listen)
		if err != nil {
			return fmt.Errorf("status: listen %s: %w", s.opts.Listen, err)
		}
		srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
		go func() { errc <- srv.Serve(ln) }()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		s.log.Info("http listening", zap.String("addr", ln.Addr().String()))
	}

	if s.opts.GRPCListen != "" {
		ln, err := net.Listen("tcp", s.opts.GRPCListen)
		if err != nil {
			return fmt.Errorf("status: listen %s: %w", s.opts.GRPCListen, err)
		}
		gs := s.health.server()
		go func() { errc <- gs.Serve(ln) }()
		defer gs.Stop()
		s.log.Info("grpc health listening", zap.String("addr", ln.Addr().String()))
	}

	ticker := time.NewTicker(s.opts.PushInterval)
	defer ticker.Stop()
	defer s.closeSockets()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return fmt.Errorf("status: server stopped: %w", err)
		case <-ticker.C:
			s.push()
		}
	}
}

func (s *Server) push() {
	s.socketsRw.RLock()
	n := len(s.sockets)
	s.socketsRw.RUnlock()
	if n == 0 {
		return
	}

	b, err := s.render()
	if err != nil {
		s.log.Warn("render", zap.Error(err))
		return
	}
	s.broadcast(b)
}
