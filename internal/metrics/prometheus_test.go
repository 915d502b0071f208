package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPrometheusRecorderTextfile(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncPackageOutcome("built")
	pr.IncPackageOutcome("built")
	pr.IncPackageOutcome("skipped")
	pr.IncCacheResult(CacheHit)
	pr.ObserveStepDuration("configure", 2*time.Second)
	pr.ObserveRunDuration(time.Minute)

	path := filepath.Join(t.TempDir(), "crossdeps.prom")
	if err := pr.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`crossdeps_package_outcomes_total{outcome="built"} 2`,
		`crossdeps_package_outcomes_total{outcome="skipped"} 1`,
		`crossdeps_cache_results_total{result="hit"} 1`,
		`crossdeps_step_duration_seconds_count{kind="configure"} 1`,
		`crossdeps_run_duration_seconds_count 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q\n%s", want, text)
		}
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Error("OrNoop(nil) is not a NoopRecorder")
	}
	pr := NewPrometheusRecorder(nil)
	if OrNoop(pr) != Recorder(pr) {
		t.Error("OrNoop(pr) did not return pr")
	}
}
