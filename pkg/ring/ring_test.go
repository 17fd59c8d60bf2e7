package ring

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	h := Of("distributed")
	got, err := Parse(h.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != h {
		t.Errorf("expected %s, got %s", h, got)
	}
	if len(h.String()) != Width {
		t.Errorf("expected width %d, got %d", Width, len(h.String()))
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "zzzzzzzzzzzzzzzz", "00000000000000001"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestDistanceWraps(t *testing.T) {
	tests := []struct {
		from, to Hash
		want     uint64
	}{
		{10, 20, 10},
		{20, 10, ^uint64(0) - 9},
		{5, 5, 0},
		{^Hash(0), 0, 1},
	}
	for _, tt := range tests {
		if got := Distance(tt.from, tt.to); got != tt.want {
			t.Errorf("Distance(%d, %d) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestLess(t *testing.T) {
	if !Less(1, 2) || Less(2, 1) || Less(3, 3) {
		t.Error("Less must be a strict unsigned order")
	}
}

func TestRandomStartVaries(t *testing.T) {
	base := time.Unix(1700000000, 0)
	seen := make(map[Hash]struct{})
	for i := 0; i < 100; i++ {
		seen[RandomStart(base.Add(time.Duration(i)))] = struct{}{}
	}
	if len(seen) != 100 {
		t.Errorf("expected 100 distinct start points, got %d", len(seen))
	}
}

func TestHashJSON(t *testing.T) {
	in := map[string]Hash{"h": 0xdeadbeef}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"h":"00000000deadbeef"}` {
		t.Errorf("unexpected encoding %s", data)
	}
	var out map[string]Hash
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["h"] != 0xdeadbeef {
		t.Errorf("expected deadbeef, got %s", out["h"])
	}
}
