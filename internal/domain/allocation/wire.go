package allocation

import (
	"encoding/json"
	"fmt"
)

// assignRequest is the body of POST /assign-patients. Patients are kept raw
// so one undecodable entry is rejected on its own instead of failing the
// whole batch.
type assignRequest struct {
	Patients []json.RawMessage `json:"patients"`
	Day      any               `json:"day"`
}

type patientPayload struct {
	ID         any            `json:"id"`
	ESI        any            `json:"esi"`
	Pathologie any            `json:"pathologie"`
	Needs      map[string]any `json:"needs"`
	WaitWindow any            `json:"wait_window"`
	Day        any            `json:"day"`
	CHU        any            `json:"chu"`
}

type assignResponse struct {
	Results []resultPayload `json:"results"`
}

type resultPayload struct {
	ID           string  `json:"id"`
	Jour         int     `json:"jour"`
	ESI          int     `json:"esi"`
	Pathologie   string  `json:"pathologie"`
	CHUInitial   *string `json:"chu_initial"`
	CHUTransfere *string `json:"chu_transfere"`
	Statut       Status  `json:"statut"`
}

func (r assignRequest) batch() Batch {
	b := Batch{Day: r.Day, Patients: make([]RawPatient, len(r.Patients))}
	for i, msg := range r.Patients {
		b.Patients[i] = decodePatient(msg)
	}
	return b
}

func decodePatient(msg json.RawMessage) RawPatient {
	var p patientPayload
	if err := json.Unmarshal(msg, &p); err != nil {
		// Salvage the id when the entry is an object with a bad field.
		var partial struct {
			ID any `json:"id"`
		}
		_ = json.Unmarshal(msg, &partial)
		return RawPatient{ID: partial.ID, DecodeError: fmt.Errorf("malformed patient: %w", err)}
	}
	return RawPatient{
		ID:         p.ID,
		ESI:        p.ESI,
		Pathology:  p.Pathologie,
		Needs:      p.Needs,
		WaitWindow: p.WaitWindow,
		Day:        p.Day,
		Home:       p.CHU,
	}
}

func newAssignResponse(results []AssignmentResult) assignResponse {
	out := assignResponse{Results: make([]resultPayload, len(results))}
	for i, r := range results {
		out.Results[i] = resultPayload{
			ID:           r.PatientID,
			Jour:         r.Day,
			ESI:          r.Severity,
			Pathologie:   string(r.Pathology),
			CHUInitial:   optional(r.InitialFacility),
			CHUTransfere: optional(r.TransferFacility),
			Statut:       r.Status,
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
