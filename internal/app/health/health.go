// Package health aggregates readiness checks and reports host resource usage.
package health

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Report is the aggregate of every registered check.
type Report struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Registry runs named checks concurrently.
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewRegistry returns a registry whose checks are bounded by timeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{checks: make(map[string]CheckFunc), timeout: timeout}
}

// Register adds or replaces a check.
func (r *Registry) Register(name string, check CheckFunc) {
	r.mu.Lock()
	r.checks[name] = check
	r.mu.Unlock()
}

// Run executes every check and returns results sorted by name.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]CheckResult, 0, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			start := time.Now()
			err := fn(ctx)
			res := CheckResult{Name: name, Healthy: err == nil, Duration: time.Since(start).String()}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	report := Report{Healthy: true, Checks: results}
	for _, res := range results {
		if !res.Healthy {
			report.Healthy = false
		}
	}
	return report
}

// HostSnapshot summarises the machine the service runs on. Fields the
// platform cannot report are left zero.
type HostSnapshot struct {
	Hostname          string  `json:"hostname,omitempty"`
	OS                string  `json:"os"`
	UptimeSeconds     uint64  `json:"uptime_seconds,omitempty"`
	CPUCount          int     `json:"cpu_count"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
	MemoryTotal       uint64  `json:"memory_total_bytes,omitempty"`
	MemoryAvailable   uint64  `json:"memory_available_bytes,omitempty"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Goroutines        int     `json:"goroutines"`
}

// Host collects a HostSnapshot.
func Host(ctx context.Context) HostSnapshot {
	snap := HostSnapshot{OS: runtime.GOOS, Goroutines: runtime.NumGoroutine()}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.UptimeSeconds = info.Uptime
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCount = n
	} else {
		snap.CPUCount = runtime.NumCPU()
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1, snap.Load5, snap.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryTotal = vm.Total
		snap.MemoryAvailable = vm.Available
		snap.MemoryUsedPercent = vm.UsedPercent
	}
	return snap
}
