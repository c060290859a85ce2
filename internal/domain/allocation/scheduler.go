package allocation

import "sort"

// Order returns the processing sequence for patients: severity ascending
// (ESI 1 first), then wait window ascending, then batch position. The input
// slice is left untouched.
func Order(patients []PatientRequest) []PatientRequest {
	out := make([]PatientRequest, len(patients))
	copy(out, patients)
	sort.SliceStable(out, func(i, j int) bool {
		return before(out[i], out[j])
	})
	return out
}

func before(a, b PatientRequest) bool {
	if a.Severity != b.Severity {
		return a.Severity < b.Severity
	}
	if a.MaxWaitMinutes != b.MaxWaitMinutes {
		return a.MaxWaitMinutes < b.MaxWaitMinutes
	}
	return a.Index < b.Index
}
