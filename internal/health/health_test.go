package health

import "testing"

func TestEmptyMonitorIsHealthy(t *testing.T) {
	m := NewMonitor()
	if rep := m.Report(); rep.Status != Healthy {
		t.Fatalf("status = %v, want healthy", rep.Status)
	}
}

func TestNilMonitorIsSafe(t *testing.T) {
	var m *Monitor
	m.Set(ComponentDisk, Unhealthy, "full")
	if rep := m.Report(); rep.Status != Healthy {
		t.Fatalf("nil monitor status = %v", rep.Status)
	}
}

func TestWorstStatusWins(t *testing.T) {
	m := NewMonitor()
	m.Set(ComponentCapture, Healthy, "")
	m.Set(ComponentDisk, Degraded, "low space")
	if rep := m.Report(); rep.Status != Degraded {
		t.Fatalf("status = %v, want degraded", rep.Status)
	}

	m.Set(ComponentEncoder, Unhealthy, "engine died")
	if rep := m.Report(); rep.Status != Unhealthy {
		t.Fatalf("status = %v, want unhealthy", rep.Status)
	}

	// Recovery replaces the old result.
	m.Set(ComponentEncoder, Healthy, "")
	if rep := m.Report(); rep.Status != Degraded {
		t.Fatalf("status after recovery = %v, want degraded", rep.Status)
	}
}

func TestReportListsAllChecks(t *testing.T) {
	m := NewMonitor()
	m.Set(ComponentCapture, Healthy, "")
	m.Set(ComponentLibrary, Healthy, "")
	rep := m.Report()
	if len(rep.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(rep.Checks))
	}
	for _, c := range rep.Checks {
		if c.UpdatedAt.IsZero() {
			t.Fatalf("check %s has no timestamp", c.Name)
		}
	}
}
