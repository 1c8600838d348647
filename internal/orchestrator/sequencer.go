package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bizmatrix/api/internal/ai"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

var (
	ErrNotRunning   = errors.New("analysis is not running")
	ErrNotPaused    = errors.New("analysis is not paused")
	ErrAlreadyBusy  = errors.New("analysis is already running")
	ErrStepInFlight = errors.New("a step is already in progress")
	ErrClosed       = errors.New("analysis was closed")
)

// Analyzer runs one unit of work.
type Analyzer func(ctx context.Context, factor Factor) (ai.StrategyFactorResult, error)

// Item is one entry of the accumulated report. Exactly one of Result and Error is set.
type Item struct {
	Index    int                      `json:"index"`
	FactorID string                   `json:"factorId"`
	Factor   string                   `json:"factor"`
	Result   *ai.StrategyFactorResult `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func (i Item) Failed() bool {
	return i.Error != ""
}

type Snapshot struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	InFlight  bool      `json:"inFlight"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sequencer drives a multi-unit analysis one unit per step:
//
//	idle/completed --Start--> running --Pause--> paused --Resume--> running
//	running --last unit appended--> completed
//
// A failed unit is appended as an error item and the index still advances. Pausing
// freezes the index; a step already in flight completes and is appended. Close
// cancels in-flight work and discards its result.
type Sequencer struct {
	id      string
	units   []Factor
	analyze Analyzer

	token  context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	index     int
	items     []Item
	inFlight  bool
	closed    bool
	updatedAt time.Time
}

func NewSequencer(id string, units []Factor, analyze Analyzer) *Sequencer {
	token, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		id:        id,
		units:     units,
		analyze:   analyze,
		token:     token,
		cancel:    cancel,
		state:     StateIdle,
		updatedAt: time.Now().UTC(),
	}
}

func (s *Sequencer) ID() string { return s.id }

// Start begins a fresh run from idle or completed, clearing any previous report.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch s.state {
	case StateRunning, StatePaused:
		return ErrAlreadyBusy
	}
	if s.inFlight {
		return ErrStepInFlight
	}
	s.items = nil
	s.index = 0
	s.state = StateRunning
	if len(s.units) == 0 {
		s.state = StateCompleted
	}
	s.touch()
	return nil
}

func (s *Sequencer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateRunning {
		return ErrNotRunning
	}
	s.state = StatePaused
	s.touch()
	return nil
}

// Resume continues from the frozen index.
func (s *Sequencer) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StatePaused {
		return ErrNotPaused
	}
	s.state = StateRunning
	if s.index >= len(s.units) {
		s.state = StateCompleted
	}
	s.touch()
	return nil
}

// Close cancels the token. In-flight results are dropped and every later call
// returns ErrClosed.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// Step processes the unit at the current index and returns the appended item. A
// cancelled ctx abandons the step without appending or advancing.
func (s *Sequencer) Step(ctx context.Context) (Item, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Item{}, ErrClosed
	}
	if s.state != StateRunning {
		s.mu.Unlock()
		return Item{}, ErrNotRunning
	}
	if s.inFlight {
		s.mu.Unlock()
		return Item{}, ErrStepInFlight
	}
	index := s.index
	unit := s.units[index]
	s.inFlight = true
	s.mu.Unlock()

	item, err := s.run(ctx, index, unit)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.closed {
		return Item{}, ErrClosed
	}
	if err != nil {
		return Item{}, err
	}
	s.appendLocked(item)
	return item, nil
}

// Run steps until the analysis is paused, completed or closed.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		_, err := s.Step(ctx)
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RunConcurrent analyses the remaining units with at most limit in parallel. Items
// are appended in unit order. Units are dispatched in order and dispatch stops at the
// first pause, so every dispatched unit belongs to the appended prefix and Resume
// continues at the first unit that was never started.
func (s *Sequencer) RunConcurrent(ctx context.Context, limit int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if s.inFlight {
		s.mu.Unlock()
		return ErrStepInFlight
	}
	start := s.index
	pending := append([]Factor(nil), s.units[start:]...)
	s.inFlight = true
	s.mu.Unlock()

	if limit <= 0 {
		limit = 1
	}
	results := make([]*Item, len(pending))
	slots := make(chan struct{}, limit)
	g, gctx := errgroup.WithContext(ctx)
dispatch:
	for i, unit := range pending {
		// the slot is taken before the pause check so a unit never starts after a pause
		select {
		case slots <- struct{}{}:
		case <-gctx.Done():
			break dispatch
		}
		if s.isPaused() {
			<-slots
			break
		}
		g.Go(func() error {
			defer func() { <-slots }()
			item, err := s.run(gctx, start+i, unit)
			if err != nil {
				return err
			}
			results[i] = &item
			return nil
		})
	}
	waitErr := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.closed {
		return ErrClosed
	}
	for _, item := range results {
		if item == nil {
			break
		}
		s.appendLocked(*item)
	}
	return waitErr
}

// run executes one unit. Unit failures become error items; only cancellation of ctx
// or of the token is returned as an error.
func (s *Sequencer) run(ctx context.Context, index int, unit Factor) (Item, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.token, cancel)
	defer stop()

	result, err := s.analyze(runCtx, unit)
	if ctxErr := runCtx.Err(); ctxErr != nil {
		if s.token.Err() != nil {
			return Item{}, ErrClosed
		}
		return Item{}, ctxErr
	}

	item := Item{Index: index, FactorID: unit.ID, Factor: unit.Name}
	if err != nil {
		item.Error = err.Error()
		return item, nil
	}
	item.Result = &result
	return item, nil
}

func (s *Sequencer) appendLocked(item Item) {
	s.items = append(s.items, item)
	s.index = item.Index + 1
	if s.index >= len(s.units) {
		s.state = StateCompleted
	}
	s.touch()
}

func (s *Sequencer) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePaused || s.closed
}

func (s *Sequencer) touch() {
	s.updatedAt = time.Now().UTC()
}

func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		State:     s.state,
		Index:     s.index,
		Total:     len(s.units),
		InFlight:  s.inFlight,
		Items:     append([]Item{}, s.items...),
		UpdatedAt: s.updatedAt,
	}
}
