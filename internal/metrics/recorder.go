package metrics

import "time"

// Cache results.
const (
	CacheHit      = "hit"
	CacheDownload = "download"
	CacheFailed   = "failed"
)

// Recorder receives build observations. Implementations forward them to a
// metrics backend; NoopRecorder drops them.
type Recorder interface {
	IncPackageOutcome(outcome string)
	ObserveStepDuration(kind string, d time.Duration)
	IncCacheResult(result string)
	ObserveRunDuration(d time.Duration)
}

// NoopRecorder is the default when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) IncPackageOutcome(string)                  {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) IncCacheResult(string)                     {}
func (NoopRecorder) ObserveRunDuration(time.Duration)          {}

// OrNoop returns r, or NoopRecorder if r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
