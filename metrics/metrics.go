// Package metrics exposes kernel counters/gauges through a Prometheus
// registry, served by the D_STAT virtual device (SPEC_FULL.md §4.9) and
// by cmd/kernel's optional /metrics HTTP endpoint. This is a supplemented
// feature: original_source has no metrics abstraction at all; the device
// id it is wired to (defs.D_STAT) is carried from the teacher's own
// defs/device.go numbering.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/expfmt"
)

// Registry is the process-wide collector set, a singleton in the same
// style as mem.Allocator/task.KernelSpace.
var Registry = prometheus.NewRegistry()

var (
	FrameWatermark = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rvkernel_frame_watermark_pages",
		Help: "Current bump-allocator watermark, in 4KiB pages.",
	})
	FramesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rvkernel_frames_live",
		Help: "Physical frames currently allocated and not freed.",
	})
	SchedDispatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rvkernel_scheduler_dispatches_total",
		Help: "Number of times the processor has dispatched a task.",
	})
	BlockCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rvkernel_block_cache_hits_total",
		Help: "Block cache lookups served without a disk read.",
	})
	BlockCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rvkernel_block_cache_misses_total",
		Help: "Block cache lookups that required a disk read.",
	})
	SyscallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rvkernel_syscalls_total",
		Help: "Syscalls dispatched, by syscall id.",
	}, []string{"id"})
)

func init() {
	Registry.MustRegister(FrameWatermark, FramesLive, SchedDispatches,
		BlockCacheHits, BlockCacheMisses, SyscallsTotal)
}

// Snapshot renders the registry in Prometheus text exposition format,
// the payload D_STAT's read() returns.
func Snapshot() ([]byte, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
