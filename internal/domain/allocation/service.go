package allocation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pruner drops capacity ledgers of days before a cutoff.
type Pruner interface {
	Prune(day int) int
}

// Service runs whole batches: validate, order, allocate, report. Batches
// may run concurrently; the registry serializes reservations per
// facility-day.
type Service struct {
	validator *Validator
	engine    *Engine
	metrics   *Metrics
	logger    zerolog.Logger

	pruner     Pruner
	retainDays int
	latestDay  atomic.Int64
}

func NewService(validator *Validator, engine *Engine, metrics *Metrics, logger zerolog.Logger) *Service {
	return &Service{validator: validator, engine: engine, metrics: metrics, logger: logger}
}

// SetRetention makes the service prune ledgers older than the latest seen
// day minus days after each batch. days <= 0 disables pruning.
func (s *Service) SetRetention(p Pruner, days int) {
	s.pruner = p
	s.retainDays = days
}

// AssignBatch places every valid patient of b and returns one result per
// submitted entry, in submission order.
func (s *Service) AssignBatch(ctx context.Context, b Batch) ([]AssignmentResult, error) {
	start := time.Now()
	log := s.logger.With().Str("batch_id", uuid.NewString()).Logger()

	valid, rejected := s.validator.Validate(b)
	for _, r := range rejected {
		log.Warn().
			Str("patient_id", r.Result.PatientID).
			Int("position", r.Result.Index).
			AnErr("reason", r.Err).
			Msg("patient rejected")
	}

	placed, err := s.engine.Allocate(ctx, Order(valid))
	if err != nil {
		return nil, fmt.Errorf("allocate batch: %w", err)
	}

	results, err := Report(len(b.Patients), placed, rejected)
	if err != nil {
		return nil, fmt.Errorf("report batch: %w", err)
	}

	elapsed := time.Since(start)
	s.metrics.observeBatch(results, elapsed)
	s.prune(valid)

	counts := make(map[Status]int, 4)
	for _, r := range results {
		counts[r.Status]++
	}
	log.Info().
		Int("day", BatchDay(b.Day)).
		Int("patients", len(results)).
		Int("assigned", counts[StatusAssigned]).
		Int("transferred", counts[StatusTransferred]).
		Int("waitlisted", counts[StatusWaitlisted]).
		Int("rejected", counts[StatusRejected]).
		Dur("duration", elapsed).
		Msg("batch allocated")

	return results, nil
}

func (s *Service) prune(valid []PatientRequest) {
	if s.pruner == nil || s.retainDays <= 0 {
		return
	}
	for _, p := range valid {
		day := int64(p.ArrivalDay)
		for {
			cur := s.latestDay.Load()
			if day <= cur || s.latestDay.CompareAndSwap(cur, day) {
				break
			}
		}
	}
	cutoff := int(s.latestDay.Load()) - s.retainDays
	if cutoff <= 0 {
		return
	}
	if n := s.pruner.Prune(cutoff); n > 0 {
		s.logger.Debug().Int("before_day", cutoff).Int("ledgers", n).Msg("pruned capacity ledgers")
	}
}
