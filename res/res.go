// Package res gates the per-iteration cost of long copy loops that cross
// the user/kernel boundary (vm's user-pointer translation; no EFS code
// draws from the budget, SiteDiskInodeGrowth included), mirroring the role
// biscuit's res/bounds packages play guarding Userdmap8_inner-driven
// copies in vm/as.go and vm/userbuf.go (each iteration calls
// res.Resadd_noblock(bounds.Bounds(site)) before doing one page's worth
// of work, aborting with ENOHEAP when the budget is spent). Rather than
// biscuit's hand-rolled atomic counter, this kernel uses the ecosystem's
// weighted semaphore for the same non-blocking reservation contract.
package res

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Site names a call site that draws from the budget, replacing biscuit's
// bounds.Bounds enum.
type Site int

const (
	SiteK2User Site = iota
	SiteUser2K
	SiteUserbufTx
	SiteUseriovecInit
	SiteUseriovecTx
	SiteDiskInodeGrowth
)

// defaultBudget bounds how many page-sized steps a single syscall's copy
// loop may take before the kernel treats it as resource exhaustion. It is
// generous enough that no well-formed syscall argument trips it; it exists
// to bound a malicious or buggy (len, uva) pair to O(budget) work.
const defaultBudget = 1 << 20

// Budget is the process-wide reservation cell. It is package-level,
// exactly as biscuit's res package is a single global budget shared by
// every address space, not one per Vm_t.
var Budget = semaphore.NewWeighted(defaultBudget)

// TryReserve attempts to draw one unit from the budget for the named call
// site (all sites share one budget; site is not recorded). It never
// blocks: false means the budget is currently exhausted, and the callers
// in vm then return defs.ENOMEM where Resadd_noblock's return -ENOHEAP.
func TryReserve(site Site) bool {
	return Budget.TryAcquire(1)
}

// Release gives a unit back. Copy loops never call this: the budget models
// forward-progress accounting for one syscall's worth of work and is
// refilled wholesale by Reset between syscalls, not returned eagerly.
func Release() {
	Budget.Release(1)
}

// Reset restores the full budget, called by the trap gateway once per
// syscall so that resource exhaustion is a per-call limit, not a
// kernel-lifetime one.
func Reset() {
	Budget = semaphore.NewWeighted(defaultBudget)
}

// Acquire is the blocking counterpart of TryReserve: it waits, with
// context.Background, until one unit of budget is available. Nothing in
// this repository calls it.
func Acquire() error {
	return Budget.Acquire(context.Background(), 1)
}
