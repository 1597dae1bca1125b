package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordImport(t *testing.T) {
	before := testutil.ToFloat64(ImportOutcomes.WithLabelValues("imported"))
	RecordImport("imported")
	RecordImport("imported")
	after := testutil.ToFloat64(ImportOutcomes.WithLabelValues("imported"))
	if after-before != 2 {
		t.Errorf("Expected 2 increments, got %v", after-before)
	}
}

func TestRecordScheduledRun(t *testing.T) {
	okBefore := testutil.ToFloat64(ScheduledRuns.WithLabelValues("success"))
	failBefore := testutil.ToFloat64(ScheduledRuns.WithLabelValues("failure"))

	RecordScheduledRun(true)
	RecordScheduledRun(false)

	if testutil.ToFloat64(ScheduledRuns.WithLabelValues("success"))-okBefore != 1 {
		t.Error("Expected one success")
	}
	if testutil.ToFloat64(ScheduledRuns.WithLabelValues("failure"))-failBefore != 1 {
		t.Error("Expected one failure")
	}
}

func TestObserveRemote(t *testing.T) {
	ObserveRemote("list_courses", time.Now(), nil)
	ObserveRemote("list_courses", time.Now(), errors.New("boom"))

	if n := testutil.CollectAndCount(RemoteRequestDuration); n < 2 {
		t.Errorf("Expected at least 2 series, got %d", n)
	}
}
