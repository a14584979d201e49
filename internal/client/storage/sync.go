package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultSyncInterval is how often the active session is checked.
const DefaultSyncInterval = 60 * time.Second

// Collector is the remote side receiving scan sessions.
type Collector interface {
	// CreateSession posts a new remote scan session.
	CreateSession(ctx context.Context, payload models.SyncPayload) (*models.RemoteSession, error)
	// UpdateSession replaces the content of an existing remote scan session.
	UpdateSession(ctx context.Context, id string, payload models.SyncPayload) (*models.RemoteSession, error)
}

// AgentState describes what the sync agent is doing.
type AgentState int32

const (
	StateIdle AgentState = iota
	StateChecking
	StateSyncing
)

func (s AgentState) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateSyncing:
		return "syncing"
	default:
		return "idle"
	}
}

// ErrNoActiveSession is returned by SyncActive when there is nothing to sync.
var ErrNoActiveSession = errors.New("no active scan session")

// SyncAgent periodically pushes the dirty active session to a Collector.
type SyncAgent struct {
	store     *LocalStorage
	collector Collector
	log       *zap.Logger
	interval  time.Duration

	group singleflight.Group
	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SyncOption configures a SyncAgent.
type SyncOption func(*SyncAgent)

// WithInterval overrides DefaultSyncInterval.
func WithInterval(d time.Duration) SyncOption {
	return func(a *SyncAgent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// NewSyncAgent builds an agent for store and collector.
func NewSyncAgent(store *LocalStorage, collector Collector, log *zap.Logger, opts ...SyncOption) *SyncAgent {
	if log == nil {
		log = zap.NewNop()
	}
	a := &SyncAgent{
		store:     store,
		collector: collector,
		log:       log,
		interval:  DefaultSyncInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current agent state.
func (a *SyncAgent) State() AgentState {
	return AgentState(a.state.Load())
}

// Start launches the periodic loop, replacing any loop already running.
func (a *SyncAgent) Start(ctx context.Context) {
	a.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	ticker := time.NewTicker(a.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, ok := a.store.GetActiveSession(); !ok {
					a.log.Info("no active scan session, stopping auto sync")
					return
				}
				if err := a.SyncActive(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
					a.log.Error("scan session sync failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop cancels the running loop and waits for it to exit.
func (a *SyncAgent) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the periodic loop is active.
func (a *SyncAgent) Running() bool {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// SyncActive pushes the active session if it is dirty. Timer ticks and manual
// calls for the same session are collapsed into one request.
func (a *SyncAgent) SyncActive(ctx context.Context) error {
	a.state.Store(int32(StateChecking))
	defer a.state.Store(int32(StateIdle))

	s, ok := a.store.GetActiveSession()
	if !ok {
		return ErrNoActiveSession
	}
	if !s.Dirty {
		return nil
	}
	_, err, _ := a.group.Do(s.ID, func() (any, error) {
		return nil, a.push(ctx, s.ID)
	})
	return err
}

func (a *SyncAgent) push(ctx context.Context, sessionID string) error {
	s, ok := a.store.GetSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	payload, ok := a.store.ToSyncPayload(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	seenAt := s.UpdatedAt

	a.state.Store(int32(StateSyncing))
	var (
		remote *models.RemoteSession
		err    error
	)
	if s.ServerSessionID != nil && *s.ServerSessionID != "" {
		remote, err = a.collector.UpdateSession(ctx, *s.ServerSessionID, *payload)
	} else {
		remote, err = a.collector.CreateSession(ctx, *payload)
	}
	if err != nil {
		return err
	}

	name := remote.Name
	snap := SessionSnapshot{
		ID:              sessionID,
		ServerSessionID: &remote.ID,
		SeenAt:          &seenAt,
	}
	if name != "" {
		snap.Name = &name
	}
	if _, ok := a.store.ApplyServerSnapshot(snap); !ok {
		return ErrSessionNotFound
	}
	a.log.Info("scan session synced",
		zap.String("session", sessionID),
		zap.String("remote", remote.ID),
		zap.Int("items", len(payload.Items)),
	)
	return nil
}
