package allocation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/chu/allocator/internal/domain/facility"
)

const (
	MinSeverity = 1
	MaxSeverity = 5

	DefaultWaitWindow = 25

	// MaxNeed bounds a single resource need. No facility holds this many
	// units of anything, so a clamped patient is simply never placeable.
	MaxNeed = 1_000_000
)

// ValidationError describes one malformed patient field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Rejection is a batch entry excluded from allocation.
type Rejection struct {
	Result AssignmentResult
	Err    error
}

// Validator normalizes raw batch entries into PatientRequests.
type Validator struct {
	defaultWaitWindow int
}

// NewValidator returns a Validator applying waitWindow to entries without a
// positive wait_window. A non-positive waitWindow selects DefaultWaitWindow.
func NewValidator(waitWindow int) *Validator {
	if waitWindow <= 0 {
		waitWindow = DefaultWaitWindow
	}
	return &Validator{defaultWaitWindow: waitWindow}
}

// BatchDay coerces the batch-level day. Anything that is not a
// non-negative integer becomes day 0.
func BatchDay(v any) int {
	d, ok := strictInt(v)
	if !ok || d < 0 {
		return 0
	}
	return d
}

// Validate checks every entry independently. Valid entries come back in
// input order; each malformed entry yields a Rejection instead. Ids are
// claimed in input order, so for a repeated id every occurrence after the
// first is rejected.
func (v *Validator) Validate(batch Batch) ([]PatientRequest, []Rejection) {
	batchDay := BatchDay(batch.Day)
	seen := make(map[string]struct{}, len(batch.Patients))
	var valid []PatientRequest
	var rejected []Rejection

	for i, raw := range batch.Patients {
		p, err := v.validateOne(raw, i, batchDay, seen)
		if err != nil {
			rejected = append(rejected, Rejection{Result: rejectedResult(p), Err: err})
			continue
		}
		valid = append(valid, p)
	}
	return valid, rejected
}

func (v *Validator) validateOne(raw RawPatient, index, batchDay int, seen map[string]struct{}) (PatientRequest, error) {
	p := PatientRequest{
		ID:        strings.TrimSpace(stringValue(raw.ID)),
		Pathology: ParsePathology(stringValue(raw.Pathology)),
		Index:     index,
	}
	if raw.DecodeError != nil {
		p.ArrivalDay = batchDay
		return p, &ValidationError{Field: "patient", Reason: raw.DecodeError.Error()}
	}

	var errs []error

	if p.ID == "" {
		errs = append(errs, &ValidationError{Field: "id", Reason: "is required"})
	} else if _, dup := seen[p.ID]; dup {
		errs = append(errs, &ValidationError{Field: "id", Reason: fmt.Sprintf("duplicate id %q", p.ID)})
	} else {
		seen[p.ID] = struct{}{}
	}

	if esi, ok := strictInt(raw.ESI); !ok {
		errs = append(errs, &ValidationError{Field: "esi", Reason: "must be an integer"})
	} else {
		p.Severity = esi
		if esi < MinSeverity || esi > MaxSeverity {
			errs = append(errs, &ValidationError{Field: "esi", Reason: fmt.Sprintf("%d is outside %d-%d", esi, MinSeverity, MaxSeverity)})
		}
	}

	p.ArrivalDay = batchDay
	if raw.Day != nil {
		if day, ok := strictInt(raw.Day); !ok {
			errs = append(errs, &ValidationError{Field: "day", Reason: "must be an integer"})
		} else {
			p.ArrivalDay = day
			if day < 0 {
				errs = append(errs, &ValidationError{Field: "day", Reason: "must be non-negative"})
			}
		}
	}

	p.MaxWaitMinutes = v.defaultWaitWindow
	if w, ok := strictInt(raw.WaitWindow); ok && w > 0 {
		p.MaxWaitMinutes = w
	}

	p.Needs = coerceNeeds(raw.Needs)
	p.HomeFacility = strings.TrimSpace(stringValue(raw.Home))

	if len(errs) > 0 {
		return p, errors.Join(errs...)
	}
	return p, nil
}

// coerceNeeds maps every known resource key to a count in [0, MaxNeed].
// Negative or non-numeric values count as zero, larger ones are clamped to
// MaxNeed; unknown keys are ignored.
func coerceNeeds(raw map[string]any) facility.Resources {
	var needs facility.Resources
	for key, val := range raw {
		kind, ok := facility.ParseResourceKind(key)
		if !ok {
			continue
		}
		n, ok := looseInt(val)
		switch {
		case !ok || n < 0:
			n = 0
		case n > MaxNeed:
			n = MaxNeed
		}
		needs[kind] = n
	}
	return needs
}

func rejectedResult(p PatientRequest) AssignmentResult {
	return AssignmentResult{
		PatientID: p.ID,
		Day:       p.ArrivalDay,
		Severity:  p.Severity,
		Pathology: p.Pathology,
		Status:    StatusRejected,
		Index:     p.Index,
	}
}

// looseInt converts JSON numbers and decimal strings, truncating fractions.
func looseInt(v any) (int, bool) {
	return toInt(v, true)
}

// strictInt is looseInt without truncation: 2.5 is not an integer.
func strictInt(v any) (int, bool) {
	return toInt(v, false)
}

func toInt(v any, truncate bool) (int, bool) {
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		// Always base 10: "010" is ten, "0x1f" is not a number.
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if strings.ContainsAny(s, "xX") {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatInt(f, truncate)
	case float64:
		return floatInt(t, truncate)
	case float32:
		return floatInt(float64(t), truncate)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// floatInt converts f when it is finite and inside the int range.
func floatInt(f float64, truncate bool) (int, bool) {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	if !truncate && f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}
