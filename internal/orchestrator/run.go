package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sync/errgroup"
)

// Options configures one orchestrator run.
type Options struct {
	BrowserdBinary    string
	TestRunner        string
	Tests             []string
	Instances         int
	BaseBrowserPort   int
	BaseVitePort      int
	PerTestTimeout    time.Duration
	ContinueOnFailure bool

	// Abort, if non-nil, is polled between tests; once closed the
	// orchestrator stops dispatching new tests and waits for in-flight
	// ones to settle.
	Abort <-chan struct{}

	// OnResult, if set, is invoked synchronously as each test result
	// lands, for a live progress display. Must not block meaningfully.
	OnResult func(TestResult)
}

// InstanceSummary aggregates one peer's timing and pass/fail counts.
type InstanceSummary struct {
	InstanceID string    `json:"instanceId"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
}

// Summary is the final aggregated report across all instances.
type Summary struct {
	Passed     int               `json:"passed"`
	Failed     int               `json:"failed"`
	Errors     int               `json:"errors"`
	PassRate   float64           `json:"passRate"`
	Instances  []InstanceSummary `json:"instances"`
	Results    []TestResult      `json:"results"`
	StartedAt  time.Time         `json:"startedAt"`
	EndedAt    time.Time         `json:"endedAt"`
}

// Run allocates ports, spawns peer daemons, partitions opts.Tests
// round-robin across them, executes each instance's queue concurrently via
// an errgroup, and returns the aggregated Summary. Peer daemons are always
// stopped before Run returns, even on error or abort.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Instances <= 0 {
		opts.Instances = 1
	}
	allocs, err := AllocatePorts(opts.Instances, opts.BaseBrowserPort, opts.BaseVitePort)
	if err != nil {
		return Summary{}, err
	}

	peers := make([]*peer, 0, len(allocs))
	defer func() {
		for _, p := range peers {
			p.stop()
		}
	}()

	for _, alloc := range allocs {
		p, err := spawnPeer(opts.BrowserdBinary, alloc)
		if err != nil {
			return Summary{}, err
		}
		peers = append(peers, p)
	}

	queues := partitionRoundRobin(opts.Tests, len(peers))

	summary := Summary{StartedAt: time.Now()}
	instanceSummaries := make([]InstanceSummary, len(peers))
	var mu sync.Mutex
	var allResults []TestResult
	var aborted atomic.Bool

	go func() {
		if opts.Abort == nil {
			return
		}
		<-opts.Abort
		aborted.Store(true)
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range peers {
		i, p, q := i, p, queues[i]
		eg.Go(func() error {
			inst := InstanceSummary{InstanceID: p.alloc.InstanceID, StartedAt: time.Now()}
			for q.Length() > 0 {
				if aborted.Load() {
					break
				}
				testFile := q.Remove().(string)
				result := runTest(egCtx, opts.TestRunner, testFile, p, opts.PerTestTimeout)

				mu.Lock()
				allResults = append(allResults, result)
				mu.Unlock()

				switch {
				case result.Errored:
					inst.Errors++
				case result.Passed:
					inst.Passed++
				default:
					inst.Failed++
				}

				if opts.OnResult != nil {
					opts.OnResult(result)
				}
				if (!result.Passed || result.Errored) && !opts.ContinueOnFailure {
					break
				}
			}
			inst.EndedAt = time.Now()
			mu.Lock()
			instanceSummaries[i] = inst
			mu.Unlock()
			return nil
		})
	}

	// errgroup's own error return is unused here: each instance loop
	// never returns a non-nil error, since a failing test is a recorded
	// result, not a Go error. Wait only blocks until every instance's
	// queue has drained or aborted.
	_ = eg.Wait()

	summary.EndedAt = time.Now()
	summary.Instances = instanceSummaries
	summary.Results = allResults
	for _, inst := range instanceSummaries {
		summary.Passed += inst.Passed
		summary.Failed += inst.Failed
		summary.Errors += inst.Errors
	}
	total := summary.Passed + summary.Failed + summary.Errors
	if total > 0 {
		summary.PassRate = float64(summary.Passed) / float64(total)
	}
	return summary, nil
}

// partitionRoundRobin deals tests into n queues in round-robin order.
func partitionRoundRobin(tests []string, n int) []*queue.Queue {
	queues := make([]*queue.Queue, n)
	for i := range queues {
		queues[i] = queue.New()
	}
	for i, t := range tests {
		queues[i%n].Add(t)
	}
	return queues
}
