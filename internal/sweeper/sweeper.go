// Package sweeper periodically disconnects websocket clients that have gone
// quiet. The registry tracks last activity; anything past the threshold is a
// zombie holding server resources.
package sweeper

import (
	"time"

	"github.com/victormalit/mutsynchub/internal/registry"
	"github.com/victormalit/mutsynchub/pkg/logging"
)

// Disconnector force-closes a connection by id.
type Disconnector interface {
	Disconnect(connectionID string)
}

type Sweeper struct {
	registry  *registry.Registry
	gateway   Disconnector
	interval  time.Duration
	threshold time.Duration
	logger    logging.Logger
	stop      chan struct{}
	done      chan struct{}
}

func New(reg *registry.Registry, gw Disconnector, interval, threshold time.Duration, logger logging.Logger) *Sweeper {
	return &Sweeper{
		registry:  reg,
		gateway:   gw,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop is called.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.WithFields(logging.Fields{
		"interval":  s.interval,
		"threshold": s.threshold,
	}).Info("Stale connection sweeper started")
}

// Stop halts the loop and waits for the current sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweep() {
	stale := s.registry.ListStale(s.threshold)
	if len(stale) == 0 {
		return
	}
	s.logger.WithField("count", len(stale)).Info("Sweeping stale connections")
	for _, connectionID := range stale {
		s.gateway.Disconnect(connectionID)
	}
}
