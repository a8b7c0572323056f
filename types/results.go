package types

// TotalResults is the structured total-results payload written by the runner.
// Only the summary fields are typed; the full document is kept in Raw for
// the result-ingestion collaborator.
type TotalResults struct {
	Success             bool   `json:"success"`
	NumTotalTestSuites  int    `json:"numTotalTestSuites"`
	NumFailedTestSuites int    `json:"numFailedTestSuites"`
	NumTotalTests       int    `json:"numTotalTests"`
	NumPassedTests      int    `json:"numPassedTests"`
	NumFailedTests      int    `json:"numFailedTests"`
	NumPendingTests     int    `json:"numPendingTests"`
	WasInterrupted      bool   `json:"wasInterrupted"`
	StartTime           int64  `json:"startTime"`
	Raw                 []byte `json:"-"`
}

// Failed returns true if the payload reports failing tests or suites.
func (r *TotalResults) Failed() bool {
	if r == nil {
		return false
	}
	return !r.Success || r.NumFailedTests > 0 || r.NumFailedTestSuites > 0
}
