package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chu/allocator/internal/domain/facility"
)

// Registry is the capacity store the engine reserves against.
// *facility.Registry satisfies it.
type Registry interface {
	Facilities() []facility.Facility
	Lookup(id string) (facility.Facility, bool)
	TryReserve(id string, day int, needs facility.Resources) (bool, error)
	Release(id string, day int, needs facility.Resources) error
}

// Engine places patients one at a time, in the order it is given, against
// a shared Registry. Later patients see the capacity consumed by earlier
// ones, so a batch is never placed in parallel.
type Engine struct {
	registry    Registry
	defaultHome string
	metrics     *Metrics
	logger      zerolog.Logger
}

// NewEngine returns an Engine whose default home facility is defaultHome,
// or the first registered facility when defaultHome is empty.
func NewEngine(registry Registry, defaultHome string, metrics *Metrics, logger zerolog.Logger) (*Engine, error) {
	if defaultHome == "" {
		fs := registry.Facilities()
		if len(fs) == 0 {
			return nil, facility.ErrNoFacilities
		}
		defaultHome = fs[0].ID
	} else if _, ok := registry.Lookup(defaultHome); !ok {
		return nil, fmt.Errorf("default facility: %w: %s", facility.ErrUnknownFacility, defaultHome)
	}
	return &Engine{registry: registry, defaultHome: defaultHome, metrics: metrics, logger: logger}, nil
}

// DefaultHome returns the facility used for patients that name none.
func (e *Engine) DefaultHome() string { return e.defaultHome }

type reservation struct {
	facility string
	day      int
	needs    facility.Resources
}

// Allocate places each patient of ordered in turn and returns the results in
// the same order. If ctx ends before every patient is placed, reservations
// made by this call are released and the context error is returned.
func (e *Engine) Allocate(ctx context.Context, ordered []PatientRequest) ([]AssignmentResult, error) {
	results := make([]AssignmentResult, 0, len(ordered))
	held := make([]reservation, 0, len(ordered))

	for _, p := range ordered {
		if err := ctx.Err(); err != nil {
			e.rollback(held)
			return nil, err
		}
		res, r := e.place(p)
		if r != nil {
			held = append(held, *r)
		}
		results = append(results, res)
		e.logger.Debug().
			Str("patient_id", p.ID).
			Int("day", p.ArrivalDay).
			Int("esi", p.Severity).
			Str("status", res.Status.String()).
			Str("initial", res.InitialFacility).
			Str("transfer", res.TransferFacility).
			Msg("patient placed")
	}
	return results, nil
}

func (e *Engine) rollback(held []reservation) {
	for i := len(held) - 1; i >= 0; i-- {
		r := held[i]
		if err := e.registry.Release(r.facility, r.day, r.needs); err != nil {
			e.logger.Error().Err(err).Str("facility", r.facility).Int("day", r.day).Msg("release failed")
		}
	}
}

func (e *Engine) place(p PatientRequest) (AssignmentResult, *reservation) {
	res := AssignmentResult{
		PatientID: p.ID,
		Day:       p.ArrivalDay,
		Severity:  p.Severity,
		Pathology: p.Pathology,
		Index:     p.Index,
	}
	needs := placementNeeds(p.Needs)
	home, preferred := e.home(p)

	// A pruned day is closed everywhere, so one refusal ends the search.
	closed := false
	try := func(id string) bool {
		if closed {
			return false
		}
		ok, err := e.reserve(id, p.ArrivalDay, needs)
		if errors.Is(err, facility.ErrDayPruned) {
			closed = true
		}
		return ok
	}

	if preferred {
		res.InitialFacility = home
		if try(home) {
			res.Status = StatusAssigned
			return res, &reservation{facility: home, day: p.ArrivalDay, needs: needs}
		}
	}

	winner, ok := firstFit(e.candidates(home), try)
	if !ok {
		res.Status = StatusWaitlisted
		return res, nil
	}
	res.Status = StatusTransferred
	res.TransferFacility = winner
	return res, &reservation{facility: winner, day: p.ArrivalDay, needs: needs}
}

// home resolves the patient's home facility. An unknown explicit facility
// is reported as no preference.
func (e *Engine) home(p PatientRequest) (string, bool) {
	if p.HomeFacility == "" {
		return e.defaultHome, true
	}
	if _, ok := e.registry.Lookup(p.HomeFacility); ok {
		return p.HomeFacility, true
	}
	e.logger.Warn().
		Str("patient_id", p.ID).
		Str("facility", p.HomeFacility).
		Msg("unknown home facility, searching all facilities")
	return "", false
}

// candidates lists transfer targets in registry declaration order, without home.
func (e *Engine) candidates(home string) []string {
	fs := e.registry.Facilities()
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		if f.ID != home {
			out = append(out, f.ID)
		}
	}
	return out
}

func (e *Engine) reserve(id string, day int, needs facility.Resources) (bool, error) {
	ok, err := e.registry.TryReserve(id, day, needs)
	switch {
	case errors.Is(err, facility.ErrDayPruned):
		e.metrics.observeAttempt("pruned")
		e.logger.Warn().Str("facility", id).Int("day", day).Msg("day already pruned, patient waitlisted")
	case err != nil:
		e.metrics.observeAttempt("error")
		e.logger.Error().Err(err).Str("facility", id).Int("day", day).Msg("reservation failed")
	case ok:
		e.metrics.observeAttempt("reserved")
	default:
		e.metrics.observeAttempt("full")
	}
	return ok, err
}

// firstFit returns the first candidate accepted by fits, trying them in order.
func firstFit(candidates []string, fits func(string) bool) (string, bool) {
	for _, c := range candidates {
		if fits(c) {
			return c, true
		}
	}
	return "", false
}

// placementNeeds gives patients that need nothing one ward bed, so every
// placement consumes capacity.
func placementNeeds(needs facility.Resources) facility.Resources {
	if needs.IsZero() {
		needs[facility.WardBed] = 1
	}
	return needs
}
