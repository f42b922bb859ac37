// Package supervisor runs the effector's long-lived services under a
// suture tree so a crashed sync link or status server is restarted without
// taking the valve loop down with it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"simctl/effector"
)

type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64
	// FailureBackoff is the duration to wait when the threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout is the maximum time to wait for a service to stop.
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has three layers:
//   - link: the sync channel to the manager
//   - effector: the heart and lung loop
//   - api: the status server
type Tree struct {
	root     *suture.Supervisor
	link     *suture.Supervisor
	effector *suture.Supervisor
	api      *suture.Supervisor
	log      *zap.Logger
	config   TreeConfig
}

func NewTree(log *zap.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	log = log.Named("supervisor")

	rootSpec := suture.Spec{
		EventHook:        EventHook(log),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := rootSpec
	childSpec.EventHook = nil

	t := &Tree{
		root:     suture.New("soundsense", rootSpec),
		link:     suture.New("link-layer", childSpec),
		effector: suture.New("effector-layer", childSpec),
		api:      suture.New("api-layer", childSpec),
		log:      log,
		config:   config,
	}
	t.root.Add(t.link)
	t.root.Add(t.effector)
	t.root.Add(t.api)
	return t
}

func (t *Tree) Root() *suture.Supervisor { return t.root }

func (t *Tree) AddLinkService(svc suture.Service) suture.ServiceToken {
	return t.link.Add(svc)
}

// AddEffectorService adds svc to the effector layer. effector.ErrTerminated
// from svc stops the whole tree.
func (t *Tree) AddEffectorService(svc suture.Service) suture.ServiceToken {
	return t.effector.Add(terminating{svc})
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is canceled or a service terminates the tree.
// A terminated tree returns nil.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if errors.Is(err, suture.ErrTerminateSupervisorTree) {
		return nil
	}
	return err
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// terminating maps effector.ErrTerminated onto suture's tree termination.
type terminating struct {
	suture.Service
}

func (s terminating) String() string { return fmt.Sprint(s.Service) }

func (s terminating) Serve(ctx context.Context) error {
	err := s.Service.Serve(ctx)
	if errors.Is(err, effector.ErrTerminated) {
		return suture.ErrTerminateSupervisorTree
	}
	return err
}
