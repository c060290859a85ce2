package allocation

import "fmt"

// Report merges placed and rejected outcomes back into input order. size is
// the number of submitted entries; every position must be covered exactly once.
func Report(size int, placed []AssignmentResult, rejected []Rejection) ([]AssignmentResult, error) {
	out := make([]AssignmentResult, size)
	filled := make([]bool, size)

	put := func(r AssignmentResult) error {
		if r.Index < 0 || r.Index >= size {
			return fmt.Errorf("result for %q has index %d outside batch of %d", r.PatientID, r.Index, size)
		}
		if filled[r.Index] {
			return fmt.Errorf("batch position %d reported twice", r.Index)
		}
		out[r.Index] = r
		filled[r.Index] = true
		return nil
	}

	for _, r := range placed {
		if err := put(r); err != nil {
			return nil, err
		}
	}
	for _, r := range rejected {
		if err := put(r.Result); err != nil {
			return nil, err
		}
	}
	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("batch position %d has no result", i)
		}
	}
	return out, nil
}
