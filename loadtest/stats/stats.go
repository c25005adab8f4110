// Package stats aggregates tagging and state-push timings from many simulated
// tabs and prints a summary report with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from many tabs. All methods are goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	tagLatencies     []time.Duration
	connectLatencies []time.Duration
	pushLatencies    []time.Duration
	errors           int
	violations       int
	tabs             int
	sids             map[string]struct{}
	duplicates       int
	startTime        time.Time
	scraper          *Scraper
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report() will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now(), sids: make(map[string]struct{})}
}

// AddTab records a tab that was tagged and connected. A marker seen twice is
// counted as a duplicate.
func (c *Collector) AddTab(sid string, tag, connect time.Duration) {
	c.mu.Lock()
	if _, seen := c.sids[sid]; seen {
		c.duplicates++
	}
	c.sids[sid] = struct{}{}
	c.tagLatencies = append(c.tagLatencies, tag)
	c.connectLatencies = append(c.connectLatencies, connect)
	c.tabs++
	c.mu.Unlock()
}

// AddPushLatency records the time from set_state until the state push arrived.
func (c *Collector) AddPushLatency(d time.Duration) {
	c.mu.Lock()
	c.pushLatencies = append(c.pushLatencies, d)
	c.mu.Unlock()
}

// AddViolation records a state push that reached a tab it did not belong to.
func (c *Collector) AddViolation() {
	c.mu.Lock()
	c.violations++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// TabCount returns the number of recorded tabs.
func (c *Collector) TabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tabs
}

// Duplicates returns how many markers were handed out more than once.
func (c *Collector) Duplicates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duplicates
}

// Violations returns the number of cross-tab state pushes.
func (c *Collector) Violations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a summary of the collected metrics to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Tabs:         %d\n", c.tabs)
	fmt.Printf("Errors:       %d\n", c.errors)
	fmt.Printf("Duplicates:   %d\n", c.duplicates)
	fmt.Printf("Violations:   %d\n", c.violations)

	if c.tabs > 0 {
		errorRate := float64(c.errors) / float64(c.tabs+c.errors) * 100
		fmt.Printf("Error rate:   %.2f%%\n", errorRate)
	}

	if len(c.tagLatencies) > 0 {
		fmt.Println("\n--- Tag Latency (redirect + tagged load) ---")
		printPercentiles(c.tagLatencies)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- WebSocket Bind Latency ---")
		printPercentiles(c.connectLatencies)
	}

	if len(c.pushLatencies) > 0 {
		fmt.Println("\n--- State Push Latency ---")
		printPercentiles(c.pushLatencies)
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// printPercentiles sorts the given durations and prints avg, p50, p95, p99,
// and max values along with the sample count.
func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
