package health

import (
	"context"
	"errors"
	"testing"
)

func TestRunReportsWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"empty", nil, StatusUp},
		{"all up", map[string]Check{
			"a": PingCheck(func(context.Context) error { return nil }),
		}, StatusUp},
		{"degraded", map[string]Check{
			"a": PingCheck(func(context.Context) error { return nil }),
			"b": Threshold(func() int { return 5 }, 5, 10),
		}, StatusDegraded},
		{"down wins", map[string]Check{
			"a": Threshold(func() int { return 5 }, 5, 10),
			"b": PingCheck(func(context.Context) error { return errors.New("refused") }),
		}, StatusDown},
		{"no status counts as down", map[string]Check{
			"a": func(context.Context) ComponentHealth { return ComponentHealth{} },
		}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("expected %s, got %s (%+v)", tt.want, report.Status, report.Components)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("expected %d components, got %d", len(tt.checks), len(report.Components))
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		value, degraded, down int
		want                  Status
	}{
		{1, 5, 10, StatusUp},
		{5, 5, 10, StatusDegraded},
		{12, 5, 10, StatusDown},
		{100, 0, 0, StatusUp},
	}
	for _, tt := range tests {
		got := Threshold(func() int { return tt.value }, tt.degraded, tt.down)(context.Background())
		if got.Status != tt.want {
			t.Errorf("value %d: expected %s, got %s", tt.value, tt.want, got.Status)
		}
	}
}

func TestChecksGetDeadline(t *testing.T) {
	c := NewChecker()
	c.Register("slow", func(ctx context.Context) ComponentHealth {
		if _, ok := ctx.Deadline(); !ok {
			return ComponentHealth{Status: StatusDown, Message: "no deadline"}
		}
		return ComponentHealth{Status: StatusUp}
	})
	if report := c.Run(context.Background()); report.Status != StatusUp {
		t.Errorf("expected each check to run with a deadline, got %+v", report.Components)
	}
}
