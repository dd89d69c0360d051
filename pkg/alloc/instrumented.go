package alloc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by every Instrumented allocator
// registered against the same registry.
type Metrics struct {
	Allocations   *prometheus.CounterVec
	Deallocations *prometheus.CounterVec
	Bytes         *prometheus.CounterVec
}

// NewMetrics creates and registers allocator collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Allocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pktedit_allocator_allocations_total",
				Help: "Total number of allocation requests by result",
			},
			[]string{"allocator", "result"},
		),
		Deallocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pktedit_allocator_deallocations_total",
				Help: "Total number of blocks returned to the allocator",
			},
			[]string{"allocator"},
		),
		Bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pktedit_allocator_bytes_total",
				Help: "Total number of bytes handed out",
			},
			[]string{"allocator"},
		),
	}
}

// Instrumented reports allocator traffic to prometheus.
type Instrumented struct {
	next Allocator

	ok     prometheus.Counter
	failed prometheus.Counter
	freed  prometheus.Counter
	bytes  prometheus.Counter
}

// NewInstrumented wraps next, labelling its series with name.
func NewInstrumented(next Allocator, name string, m *Metrics) *Instrumented {
	if next == nil {
		next = Heap{}
	}
	return &Instrumented{
		next:   next,
		ok:     m.Allocations.WithLabelValues(name, "ok"),
		failed: m.Allocations.WithLabelValues(name, "failed"),
		freed:  m.Deallocations.WithLabelValues(name),
		bytes:  m.Bytes.WithLabelValues(name),
	}
}

// Allocate implements Allocator.
func (a *Instrumented) Allocate(n int) []byte {
	b := a.next.Allocate(n)
	if b == nil {
		a.failed.Inc()
		return nil
	}
	a.ok.Inc()
	a.bytes.Add(float64(n))
	return b
}

// Deallocate implements Allocator.
func (a *Instrumented) Deallocate(b []byte) {
	if b == nil {
		return
	}
	a.freed.Inc()
	a.next.Deallocate(b)
}
