package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBlocksRespectsBudget(t *testing.T) {
	blocks := PlanBlocks([]int{40, 40, 40, 40}, 100)
	require.Len(t, blocks, 2)
	assert.Equal(t, [2]int{0, 2}, blocks[0])
	assert.Equal(t, [2]int{2, 4}, blocks[1])
}

func TestPlanBlocksKeepsOversizedSequenceAlone(t *testing.T) {
	blocks := PlanBlocks([]int{10, 500, 10}, 100)
	require.Len(t, blocks, 3)
	assert.Equal(t, [2]int{1, 2}, blocks[1])
}

func TestGenerateWorkUnitsCartesianProduct(t *testing.T) {
	units := GenerateWorkUnits(2, 2, []int{0, 1}, []int{7})
	assert.Len(t, units, 2*2*2*1)
}

func TestSchedulerRunProcessesAllUnits(t *testing.T) {
	s := New(4)
	units := GenerateWorkUnits(3, 3, []int{0}, []int{0})

	var count int64
	err := s.Run(context.Background(), units, func(ctx context.Context, u WorkUnit) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(units)), count)
}

func TestSchedulerRunPropagatesWorkerError(t *testing.T) {
	s := New(2)
	units := GenerateWorkUnits(5, 1, []int{0}, []int{0})

	boom := assertError("boom")
	err := s.Run(context.Background(), units, func(ctx context.Context, u WorkUnit) error {
		if u.QueryBlock == 2 {
			return boom
		}
		return nil
	})
	assert.Equal(t, boom, err)
}

func TestSchedulerRunHonorsTimeout(t *testing.T) {
	s := New(1)
	units := GenerateWorkUnits(100, 1, []int{0}, []int{0})

	ctx, cancel := WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, units, func(ctx context.Context, u WorkUnit) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type assertError string

func (e assertError) Error() string { return string(e) }
