package controller

// Result is the outcome of creating the record for one desired address.
type Result struct {
	Address  string `json:"address"`
	Type     string `json:"type"`
	RecordID string `json:"record_id,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Summary tallies a list of results.
type Summary struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Succeeded    []string `json:"succeeded"`
	Failed       []string `json:"failed"`
}

// Aggregate counts successes and failures and lists the addresses of each,
// preserving the order of results.
func Aggregate(results []Result) Summary {
	s := Summary{Succeeded: []string{}, Failed: []string{}}
	for _, r := range results {
		if r.Success {
			s.SuccessCount++
			s.Succeeded = append(s.Succeeded, r.Address)
			continue
		}
		s.FailureCount++
		s.Failed = append(s.Failed, r.Address)
	}
	return s
}
