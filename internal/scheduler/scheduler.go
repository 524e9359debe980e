// Package scheduler implements the block scheduler: the outer
// reference-block/query-block loops, letter-budget block sizing, and the
// worker pool that distributes (query_block, ref_block, partition, shape)
// work units to goroutines over a buffered channel and a sync.WaitGroup,
// with cancellation and a wall-clock timeout driven through a
// context.Context the caller owns.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// WorkUnit is one leaf unit of search work.
type WorkUnit struct {
	QueryBlock int
	RefBlock   int
	Partition  int
	ShapeID    int
}

// PlanBlocks greedily tiles letterCounts (one entry per sequence, in input
// order) into index ranges whose summed letter count does not exceed
// budgetLetters, the memory-budget rule both reference and query blocks
// are sized by. A single oversized sequence still gets its own one-element
// block rather than being dropped.
func PlanBlocks(letterCounts []int, budgetLetters int64) [][2]int {
	if budgetLetters <= 0 {
		budgetLetters = 1
	}
	var blocks [][2]int
	start := 0
	var sum int64
	for i, n := range letterCounts {
		if sum > 0 && sum+int64(n) > budgetLetters {
			blocks = append(blocks, [2]int{start, i})
			start = i
			sum = 0
		}
		sum += int64(n)
	}
	if start < len(letterCounts) {
		blocks = append(blocks, [2]int{start, len(letterCounts)})
	}
	return blocks
}

// GenerateWorkUnits produces the cartesian product of query blocks, ref
// blocks, seed-table partitions, and seed shapes that the scheduler must
// dispatch.
func GenerateWorkUnits(numQueryBlocks, numRefBlocks int, partitions, shapeIDs []int) []WorkUnit {
	var units []WorkUnit
	for qb := 0; qb < numQueryBlocks; qb++ {
		for rb := 0; rb < numRefBlocks; rb++ {
			for _, p := range partitions {
				for _, sid := range shapeIDs {
					units = append(units, WorkUnit{QueryBlock: qb, RefBlock: rb, Partition: p, ShapeID: sid})
				}
			}
		}
	}
	return units
}

// Process is the caller-supplied leaf work function. It should check
// ctx.Err() at its own natural boundaries and return promptly once the
// context is done.
type Process func(ctx context.Context, unit WorkUnit) error

// Scheduler runs a fixed-size pool of worker goroutines against a channel
// of WorkUnits.
type Scheduler struct {
	Threads int
}

// New returns a Scheduler with the given worker count. threads <= 0 is coerced to 1.
func New(threads int) *Scheduler {
	if threads <= 0 {
		threads = 1
	}
	return &Scheduler{Threads: threads}
}

// Run dispatches every unit to the worker pool and blocks until all units
// have been processed, the context is cancelled, or a worker returns a
// non-nil error (the first such error is returned; remaining queued units
// are drained without being run). Back-pressure onto the unit producer
// itself is not this type's concern — back-pressure lives in the hit
// buffer's shard budget (internal/hitbuffer), which blocks a worker's
// Process call directly rather than the scheduler's dispatch loop.
func (s *Scheduler) Run(ctx context.Context, units []WorkUnit, process Process) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs := make(chan WorkUnit, s.Threads*2)
	errs := make(chan error, 1)
	var wg sync.WaitGroup

	for i := 0; i < s.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				if err := process(runCtx, unit); err != nil {
					select {
					case errs <- err:
					default:
					}
					cancel()
				}
			}
		}()
	}

feed:
	for _, u := range units {
		select {
		case jobs <- u:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
	}
	return ctx.Err()
}

// WithTimeout returns a context that is cancelled after d elapses, the
// wall-clock watchdog for a whole run. The returned cancel func must be
// called once the scheduler run completes to release the timer.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
