package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector(nil)

	c.RecordRun("tick", 3, 2*time.Second, time.Unix(1700000000, 0))
	c.RecordRun("manual", 0, time.Second, time.Unix(1700000100, 0))
	c.RecordOccurrence(OutcomeProcessed, 10*time.Millisecond)
	c.RecordOccurrence(OutcomeProcessed, 10*time.Millisecond)
	c.RecordOccurrence(OutcomeFailed, 10*time.Millisecond)
	c.RecordNotification("BUDGET")
	c.RecordReminders(2)
	c.RecordReminders(0)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"tick runs", testutil.ToFloat64(c.runs.WithLabelValues("tick")), 1},
		{"manual runs", testutil.ToFloat64(c.runs.WithLabelValues("manual")), 1},
		{"due gauge keeps last value", testutil.ToFloat64(c.dueObligations), 0},
		{"last run timestamp", testutil.ToFloat64(c.lastRunSuccess), 1700000100},
		{"processed", testutil.ToFloat64(c.items.WithLabelValues(OutcomeProcessed)), 2},
		{"failed", testutil.ToFloat64(c.items.WithLabelValues(OutcomeFailed)), 1},
		{"budget notifications", testutil.ToFloat64(c.notifications.WithLabelValues("BUDGET")), 1},
		{"reminders", testutil.ToFloat64(c.remindersSent), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordRun("tick", 1, time.Second, time.Now())
	c.RecordOccurrence(OutcomeSkipped, time.Second)
	c.RecordNotification("GOAL")
	c.RecordReminders(1)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordOccurrence(OutcomeProcessed, time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `finplan_occurrences_total{outcome="processed"} 1`) {
		t.Errorf("metrics output missing occurrence counter:\n%s", body)
	}
}
