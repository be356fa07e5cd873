// Command kernel boots the hosted RISC-V kernel against a disk image
// and runs its scheduler loop (boot.Kernel.Run), the entry point
// biscuit/src/main.go's early-boot sequence corresponds to, adapted to
// kingpin flags in the same style as talyz-systemd_exporter's
// collector.* flag set.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"rvkernel/boot"
	"rvkernel/metrics"
	"rvkernel/trap"
)

var (
	diskPath      = kingpin.Flag("disk", "Path of the EFS disk image to boot from.").Required().String()
	initPath      = kingpin.Flag("init", "Path of the initial process inside the image.").Default("/initproc").String()
	memoryEnd     = kingpin.Flag("memory-end", "Physical address ending the frame allocator's region.").Default("0").Uint64()
	kernelEkern   = kingpin.Flag("kernel-ekern", "Physical address of the kernel image's ekernel symbol.").Default("0").Uint64()
	debug         = kingpin.Flag("debug", "Print boot diagnostics to stdout.").Bool()
	metricsListen = kingpin.Flag("web.listen-address", "Address to serve /metrics on; empty disables it.").Default("").String()
)

func main() {
	kingpin.Parse()

	if *metricsListen != "" {
		go serveMetrics(*metricsListen)
	}

	k, err := boot.Boot(boot.Config{
		DiskPath:    *diskPath,
		InitPath:    *initPath,
		MemoryEnd:   *memoryEnd,
		KernelEkern: *kernelEkern,
		Debug:       *debug,
	})
	if err != nil {
		kingpin.Fatalf("%v", errors.Wrap(err, "kernel: boot"))
	}

	// There is no real hart to interpret a loaded ELF's instructions, so
	// the hosted entry point runs the scheduler loop with a source that
	// never raises further traps: every dispatched task is suspended and
	// re-queued at once, so the loop keeps re-dispatching and does not
	// return while any task exists. A deployment embedding an emulator
	// supplies its own trap.EventSource here instead.
	k.Run(trap.NullEventSource{})
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: metrics server: %v\n", err)
	}
}
