package facility

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResourceKind identifies one of the capacity-tracked resources of a facility.
type ResourceKind int

const (
	ICUBed ResourceKind = iota
	Ventilator
	Scanner
	WardBed
)

// NumResourceKinds is the number of tracked resource kinds.
const NumResourceKinds = 4

var kindKeys = [NumResourceKinds]string{
	ICUBed:     "lit_rea",
	Ventilator: "respirateur",
	Scanner:    "scanner",
	WardBed:    "lit",
}

// Kinds returns every resource kind in declaration order.
func Kinds() []ResourceKind {
	return []ResourceKind{ICUBed, Ventilator, Scanner, WardBed}
}

// Key returns the wire key of the kind ("lit_rea", "respirateur", ...).
func (k ResourceKind) Key() string {
	if k < 0 || int(k) >= NumResourceKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindKeys[k]
}

func (k ResourceKind) String() string { return k.Key() }

// ParseResourceKind maps a wire key to its kind.
func ParseResourceKind(key string) (ResourceKind, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i, k := range kindKeys {
		if k == key {
			return ResourceKind(i), true
		}
	}
	return 0, false
}

// Resources holds one count per resource kind. It is used both for
// capacities and for the needs of a single patient.
type Resources [NumResourceKinds]int

// IsZero reports whether every count is zero.
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Add returns r + o.
func (r Resources) Add(o Resources) Resources {
	for i := range r {
		r[i] += o[i]
	}
	return r
}

// Sub returns r - o.
func (r Resources) Sub(o Resources) Resources {
	for i := range r {
		r[i] -= o[i]
	}
	return r
}

// Within reports whether every count of r is at most the matching count of limit.
func (r Resources) Within(limit Resources) bool {
	for i := range r {
		if r[i] > limit[i] {
			return false
		}
	}
	return true
}

// HasRoomFor reports whether needs can be added to r without any count
// exceeding limit. Needs are compared against the remaining room, never
// summed, so they cannot overflow.
func (r Resources) HasRoomFor(needs, limit Resources) bool {
	for i := range r {
		if needs[i] > limit[i]-r[i] {
			return false
		}
	}
	return true
}

// NonNegative reports whether no count is negative.
func (r Resources) NonNegative() bool {
	for _, n := range r {
		if n < 0 {
			return false
		}
	}
	return true
}

// Map returns the counts keyed by wire key.
func (r Resources) Map() map[string]int {
	m := make(map[string]int, NumResourceKinds)
	for _, k := range Kinds() {
		m[k.Key()] = r[k]
	}
	return m
}

// ResourcesFromMap builds Resources from wire keys. Unknown keys are an error.
func ResourcesFromMap(m map[string]int) (Resources, error) {
	var r Resources
	for key, n := range m {
		k, ok := ParseResourceKind(key)
		if !ok {
			return Resources{}, fmt.Errorf("unknown resource kind %q", key)
		}
		r[k] = n
	}
	return r, nil
}

func (r Resources) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func (r *Resources) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := ResourcesFromMap(m)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Facility is a hospital site with a fixed per-day capacity for each resource kind.
type Facility struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Capacity Resources `json:"capacity"`
}

// Validate checks that the facility can be registered.
func (f Facility) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("facility id is required")
	}
	if !f.Capacity.NonNegative() {
		return fmt.Errorf("facility %s: capacity must be non-negative", f.ID)
	}
	return nil
}

// Usage is a point-in-time view of one facility on one day.
type Usage struct {
	FacilityID string    `json:"facility_id"`
	Day        int       `json:"day"`
	Capacity   Resources `json:"capacity"`
	Allocated  Resources `json:"allocated"`
	Available  Resources `json:"available"`
}
