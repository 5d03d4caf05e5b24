package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"CageKeeper/internal/chain"
	"CageKeeper/internal/observability"
	"CageKeeper/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is a point-in-time copy of the facilitation state.
type Status struct {
	Episode         uuid.UUID `json:"episode"`
	Phase           string    `json:"phase"`
	Confirmations   int       `json:"confirmations"`
	Threshold       int       `json:"threshold"`
	CageFacilitated bool      `json:"cage_facilitated"`
	Complete        bool      `json:"complete"`
	LastBlock       uint64    `json:"last_block"`
	LastBlockTime   time.Time `json:"last_block_time"`
	LastError       string    `json:"last_error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Runner owns the facilitation state and serializes ticks. It is the
// BlockHandler given to the chain watcher.
type Runner struct {
	keeper    *Keeper
	episode   uuid.UUID
	stayAlive bool
	logger    zerolog.Logger
	metrics   *observability.Metrics
	health    *observability.HealthChecker

	// tick serializes OnBlock; mu only guards the fields below
	tick sync.Mutex

	mu        sync.Mutex
	state     state.FacilitationState
	status    Status
	observers []func(Status)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Episode   uuid.UUID
	StayAlive bool
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Health    *observability.HealthChecker
}

func NewRunner(k *Keeper, initial state.FacilitationState, opts RunnerOptions) *Runner {
	r := &Runner{
		keeper:    k,
		episode:   opts.Episode,
		stayAlive: opts.StayAlive,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		health:    opts.Health,
		state:     initial,
	}
	r.status = r.snapshot(state.Block{}, nil)
	return r
}

// Subscribe registers fn to receive the status after every tick.
func (r *Runner) Subscribe(fn func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Status returns the latest status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// State returns a copy of the facilitation state.
func (r *Runner) State() state.FacilitationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnBlock runs one tick. Status and State stay readable while the tick waits
// on the chain. Once complete it asks the watcher to stop unless stay-alive
// is set.
func (r *Runner) OnBlock(ctx context.Context, block state.Block) error {
	r.tick.Lock()
	defer r.tick.Unlock()

	r.mu.Lock()
	next := r.state
	r.mu.Unlock()

	before := next.Phase(r.keeper.cfg.Threshold)
	err := r.keeper.Tick(ctx, &next, block)
	after := next.Phase(r.keeper.cfg.Threshold)

	if !before.CanTransitionTo(after) {
		r.logger.Error().
			Err(state.ErrInconsistentState).
			Str("from", before.String()).
			Str("to", after.String()).
			Msg("unexpected phase transition")
	}

	r.mu.Lock()
	r.state = next
	r.status = r.snapshot(block, err)
	status := r.status
	observers := append([]func(Status){}, r.observers...)
	r.mu.Unlock()

	if before != after {
		r.logger.Info().Str("from", before.String()).Str("to", after.String()).Msg("phase changed")
	}
	r.publish(status, after)
	for _, fn := range observers {
		fn(status)
	}

	if status.Complete && !r.stayAlive {
		if err != nil {
			return errors.Join(err, chain.ErrStop)
		}
		return chain.ErrStop
	}
	return err
}

func (r *Runner) snapshot(block state.Block, err error) Status {
	s := Status{
		Episode:         r.episode,
		Phase:           r.state.Phase(r.keeper.cfg.Threshold).String(),
		Confirmations:   r.state.Confirmations,
		Threshold:       r.keeper.cfg.Threshold,
		CageFacilitated: r.state.CageFacilitated,
		Complete:        r.state.Complete,
		LastBlock:       block.Number,
		LastBlockTime:   block.Timestamp,
		UpdatedAt:       time.Now().UTC(),
	}
	if err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (r *Runner) publish(s Status, phase state.Phase) {
	if r.metrics != nil {
		r.metrics.Confirmations.Set(float64(s.Confirmations))
		r.metrics.Phase.Set(float64(phase))
	}
	if r.health != nil {
		r.health.SetLastBlock(s.LastBlock)
		r.health.SetReady(true)
	}
}
