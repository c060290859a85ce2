package allocation

import (
	"fmt"
	"strings"

	"github.com/chu/allocator/internal/domain/facility"
)

// Pathology is the presenting condition category of a patient.
type Pathology string

const (
	PathologyInfarction Pathology = "infarctus"
	PathologyPneumonia  Pathology = "pneumonie"
	PathologyFracture   Pathology = "fracture"
	PathologyInfection  Pathology = "infection"
	PathologyUnknown    Pathology = "inconnue"
)

var knownPathologies = []Pathology{
	PathologyInfarction,
	PathologyPneumonia,
	PathologyFracture,
	PathologyInfection,
	PathologyUnknown,
}

// ParsePathology normalizes s. Unrecognized values map to PathologyUnknown.
func ParsePathology(s string) Pathology {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range knownPathologies {
		if string(p) == s {
			return p
		}
	}
	return PathologyUnknown
}

// Status is the outcome of one patient in a batch.
type Status int

const (
	StatusAssigned Status = iota + 1
	StatusTransferred
	StatusWaitlisted
	StatusRejected
)

var statusTokens = map[Status]string{
	StatusAssigned:    "Assigned",
	StatusTransferred: "Transferred",
	StatusWaitlisted:  "Waitlisted",
	StatusRejected:    "Rejected",
}

func (s Status) String() string {
	if tok, ok := statusTokens[s]; ok {
		return tok
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus converts a wire token back to a Status.
func ParseStatus(tok string) (Status, error) {
	for s, t := range statusTokens {
		if t == tok {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", tok)
}

func (s Status) MarshalText() ([]byte, error) {
	tok, ok := statusTokens[s]
	if !ok {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(tok), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RawPatient is one batch entry as received, before validation. Numeric
// fields keep whatever JSON value was sent.
type RawPatient struct {
	ID         any
	ESI        any
	Pathology  any
	Needs      map[string]any
	WaitWindow any
	Day        any
	Home       any
	// DecodeError is set when the entry could not be decoded at all.
	DecodeError error
}

// Batch is one submission: the patients in input order plus the batch day,
// which patients without their own day inherit.
type Batch struct {
	Day      any
	Patients []RawPatient
}

// PatientRequest is a validated patient. It is never mutated once built.
type PatientRequest struct {
	ID             string
	Severity       int
	Pathology      Pathology
	Needs          facility.Resources
	MaxWaitMinutes int
	ArrivalDay     int
	// HomeFacility is the facility the patient asked for, empty when none.
	HomeFacility string
	// Index is the position of the patient in the submitted batch.
	Index int
}

// AssignmentResult is the outcome for one patient. Empty facility ids mean none.
type AssignmentResult struct {
	PatientID        string
	Day              int
	Severity         int
	Pathology        Pathology
	InitialFacility  string
	TransferFacility string
	Status           Status
	Index            int
}
