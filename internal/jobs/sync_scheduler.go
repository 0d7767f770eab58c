// Package jobs runs the periodic sync scheduler.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/casebridge/casebridge/internal/database"
	syncengine "github.com/casebridge/casebridge/internal/sync"
)

// CycleObserver receives finished cycle results. Implemented by the Slack
// notifier and the WebSocket feed; both calls are fire-and-forget.
type CycleObserver interface {
	CycleFinished(result syncengine.CycleResult)
}

// observerFunc adapts a plain function to CycleObserver
type observerFunc func(syncengine.CycleResult)

func (f observerFunc) CycleFinished(result syncengine.CycleResult) { f(result) }

// ObserverFunc wraps fn as a CycleObserver
func ObserverFunc(fn func(syncengine.CycleResult)) CycleObserver {
	return observerFunc(fn)
}

// SyncScheduler periodically runs a sync cycle for every enabled integration.
// Integrations sync concurrently; a slow vendor never delays the others.
type SyncScheduler struct {
	db           *gorm.DB
	orchestrator *syncengine.Orchestrator
	interval     time.Duration
	observers    []CycleObserver

	mu      sync.Mutex
	running bool // guards against overlapping RunAll passes
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(db *gorm.DB, orchestrator *syncengine.Orchestrator, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		db:           db,
		orchestrator: orchestrator,
		interval:     interval,
	}
}

// AddObserver registers an observer notified after every cycle
func (s *SyncScheduler) AddObserver(obs CycleObserver) {
	if obs != nil {
		s.observers = append(s.observers, obs)
	}
}

// RunAll executes one sync cycle for every enabled integration and waits for
// all of them to finish. Returns the number of cycles that ran. A pass that
// overlaps an in-flight pass is skipped.
func (s *SyncScheduler) RunAll(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Sync pass already in progress, skipping")
		return 0
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	integrations, err := database.ListEnabledIntegrations(s.db)
	if err != nil {
		log.Printf("Sync pass failed to list integrations: %v", err)
		return 0
	}
	if len(integrations) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for i := range integrations {
		integration := integrations[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, _ := s.orchestrator.RunCycle(ctx, &integration)
			for _, obs := range s.observers {
				obs.CycleFinished(result)
			}
		}()
	}
	wg.Wait()
	return len(integrations)
}

// Start runs the scheduler loop until the stop channel closes. An initial
// pass runs immediately so a fresh deployment does not wait a full interval.
func (s *SyncScheduler) Start(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-stop
		cancel()
	}()

	s.RunAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunAll(ctx)
		case <-stop:
			log.Println("Sync scheduler stopping")
			return
		}
	}
}
