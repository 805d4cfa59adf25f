// Package metrics is a small Prometheus-compatible registry. It renders the
// text exposition format directly.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry served at the metrics endpoint.
var Collector = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every series sharing a metric name. Series are keyed by
// their rendered label set.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]sample
}

type sample interface {
	write(w io.Writer, name, labels string)
}

// Registry owns metric families and renders them sorted by name and labels.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	started  time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), started: time.Now()}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.started)
}

// lookup returns the series for name and labels, creating it with mk on first
// use. Reusing a name with a different kind is a programming error.
func (r *Registry) lookup(name, help, labels string, k kind, mk func() sample) sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]sample)}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

func (c *Counter) write(w io.Writer, name, labels string) {
	writeLine(w, name, labels, strconv.FormatInt(c.Value(), 10))
}

// Gauge is a value that can go up and down.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.v.Store(n) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) write(w io.Writer, name, labels string) {
	writeLine(w, name, labels, strconv.FormatInt(g.Value(), 10))
}

// Histogram counts observations into cumulative upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // counts[i] observations <= bounds[i]
	total  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) write(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	withLE := func(le string) string {
		if labels == "" {
			return `le="` + le + `"`
		}
		return labels + `,le="` + le + `"`
	}
	for i, le := range h.bounds {
		if math.IsInf(le, 1) {
			continue
		}
		writeLine(w, name+"_bucket", withLE(strconv.FormatFloat(le, 'g', -1, 64)), strconv.FormatInt(h.counts[i], 10))
	}
	writeLine(w, name+"_bucket", withLE("+Inf"), strconv.FormatInt(h.total, 10))
	writeLine(w, name+"_sum", labels, strconv.FormatFloat(h.sum, 'g', -1, 64))
	writeLine(w, name+"_count", labels, strconv.FormatInt(h.total, 10))
}

// Counter returns the counter for name and labels (e.g. `channel="cli"`).
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.lookup(name, help, labels, kindCounter, func() sample { return new(Counter) }).(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.lookup(name, help, labels, kindGauge, func() sample { return new(Gauge) }).(*Gauge)
}

// Histogram returns the histogram for name and labels. Buckets only apply
// when the series is first created.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return r.lookup(name, help, labels, kindHistogram, func() sample {
		bounds := slices.Clone(buckets)
		slices.Sort(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.writeAll(w)
	}
}

// Render returns the exposition text. Output is deterministic for a given
// set of values.
func (r *Registry) Render() string {
	var sb strings.Builder
	r.writeAll(&sb)
	return sb.String()
}

// writeAll writes the uptime gauge followed by every family.
func (r *Registry) writeAll(w io.Writer) {
	writeHeader(w, "ilvlbot_uptime_seconds", "Time since start in seconds", kindGauge)
	writeLine(w, "ilvlbot_uptime_seconds", "", strconv.FormatInt(int64(r.Uptime().Seconds()), 10))

	r.mu.Lock()
	fams := make([]*family, 0, len(r.families))
	for _, f := range r.families {
		fams = append(fams, f)
	}
	r.mu.Unlock()
	slices.SortFunc(fams, func(a, b *family) int { return strings.Compare(a.name, b.name) })

	for _, f := range fams {
		r.mu.Lock()
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		series := make([]sample, len(labels))
		slices.Sort(labels)
		for i, l := range labels {
			series[i] = f.series[l]
		}
		r.mu.Unlock()

		writeHeader(w, f.name, f.help, f.kind)
		for i, s := range series {
			s.write(w, f.name, labels[i])
		}
	}
}

func writeHeader(w io.Writer, name, help string, k kind) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, k)
}

func writeLine(w io.Writer, name, labels, value string) {
	if labels == "" {
		fmt.Fprintf(w, "%s %s\n", name, value)
		return
	}
	fmt.Fprintf(w, "%s{%s} %s\n", name, labels, value)
}

var (
	MessagesTotal    = Collector.Counter("ilvlbot_messages_total", "Inbound chat messages processed", "")
	CommandsTotal    = Collector.Counter("ilvlbot_commands_total", "Slash commands handled", "")
	RateLimited      = Collector.Counter("ilvlbot_rate_limited_total", "Messages rejected by the per-sender limiter", "")
	FallbackReplies  = Collector.Counter("ilvlbot_fallback_replies_total", "Utterances that matched no intent", "")
	DialogsStarted   = Collector.Counter("ilvlbot_dialogs_started_total", "Dialogs started", "")
	DialogsCompleted = Collector.Counter("ilvlbot_dialogs_completed_total", "Dialogs that reached a final reply", "")
	LookupsTotal     = Collector.Counter("ilvlbot_lookups_total", "Character lookups issued", "")
	LookupFailures   = Collector.Counter("ilvlbot_lookup_failures_total", "Character lookups that failed", "")
	TurnsInFlight    = Collector.Gauge("ilvlbot_turns_in_flight", "Turns currently being processed", "")
	WSConnections    = Collector.Gauge("ilvlbot_websocket_connections", "Open websocket connections", "")

	LookupLatency = Collector.Histogram("ilvlbot_lookup_latency_seconds", "Character lookup latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
	TurnLatency = Collector.Histogram("ilvlbot_turn_latency_seconds", "Time to answer one inbound message in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10})
)
