package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_RenderIsSorted(t *testing.T) {
	c := NewRegistry()
	c.Counter("b_total", "b", "").Add(2)
	c.Counter("a_total", "a", `channel="cli"`).Inc()
	c.Gauge("g", "gauge", "").Set(5)

	out := c.Render()
	ai := strings.Index(out, `a_total{channel="cli"} 1`)
	bi := strings.Index(out, "b_total 2")
	if ai < 0 || bi < 0 {
		t.Fatalf("missing samples:\n%s", out)
	}
	if ai > bi {
		t.Errorf("expected a_total before b_total:\n%s", out)
	}
	if !strings.Contains(out, "g 5\n") {
		t.Errorf("missing gauge:\n%s", out)
	}
	if out != c.Render() {
		t.Error("render is not deterministic")
	}
}

func TestCollector_Histogram(t *testing.T) {
	c := NewRegistry()
	h := c.Histogram("lat", "latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(3)

	out := c.Render()
	for _, want := range []string{
		`lat_bucket{le="0.1"} 1`,
		`lat_bucket{le="1"} 2`,
		`lat_bucket{le="+Inf"} 3`,
		"lat_count 3",
		"lat_sum 3.55",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCollector_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewRegistry()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	a.Inc()
	if b.Value() != 1 {
		t.Fatalf("expected shared counter, got %d", b.Value())
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewRegistry()
	c.Counter("ilvlbot_lookups_total", "lookups", "").Inc()

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "ilvlbot_lookups_total 1") {
		t.Errorf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestRegistry_LabeledSeriesShareHeader(t *testing.T) {
	c := NewRegistry()
	c.Counter("msgs_total", "messages", `channel="slack"`).Inc()
	c.Counter("msgs_total", "messages", `channel="cli"`).Add(3)

	out := c.Render()
	if n := strings.Count(out, "# TYPE msgs_total counter"); n != 1 {
		t.Fatalf("expected one TYPE line, got %d:\n%s", n, out)
	}
	cli := strings.Index(out, `msgs_total{channel="cli"} 3`)
	slack := strings.Index(out, `msgs_total{channel="slack"} 1`)
	if cli < 0 || slack < 0 || cli > slack {
		t.Fatalf("series missing or unsorted:\n%s", out)
	}
}

func TestRegistry_KindMismatchPanics(t *testing.T) {
	c := NewRegistry()
	c.Counter("x", "x", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when reusing a counter name as a gauge")
		}
	}()
	c.Gauge("x", "x", "")
}
