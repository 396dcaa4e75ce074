package service

import (
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSequencerTrackingNumberFormat(t *testing.T) {
	clock := func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	}
	seq := NewSequencer(WithClock(clock))

	require.Equal(t, "RAD-20260314-0001", seq.NextTrackingNumber())
	require.Equal(t, "RAD-20260314-0002", seq.NextTrackingNumber())

	seq.Seed(0, 9998)
	require.Equal(t, "RAD-20260314-9999", seq.NextTrackingNumber())
	// the serial keeps growing past four digits rather than colliding
	require.Equal(t, "RAD-20260314-10000", seq.NextTrackingNumber())
}

func TestSequencerSeedIsForwardOnly(t *testing.T) {
	seq := NewSequencer()
	seq.Seed(40, 7)
	seq.Seed(10, 3)

	require.Equal(t, int64(41), seq.NextPriorityRank())
	require.Regexp(t, regexp.MustCompile(`-0008$`), seq.NextTrackingNumber())
}

func TestSequencerConcurrentRanksAreUnique(t *testing.T) {
	seq := NewSequencer()
	const workers = 50

	var wg sync.WaitGroup
	ranks := make([]int64, workers)
	numbers := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ranks[i] = seq.NextPriorityRank()
			numbers[i] = seq.NextTrackingNumber()
		}(i)
	}
	wg.Wait()

	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	for i, rank := range ranks {
		require.Equal(t, int64(i+1), rank)
	}

	pattern := regexp.MustCompile(`^RAD-\d{8}-\d{4,}$`)
	seen := make(map[string]struct{}, workers)
	for _, number := range numbers {
		require.Regexp(t, pattern, number)
		_, dup := seen[number]
		require.False(t, dup, "duplicate tracking number %s", number)
		seen[number] = struct{}{}
	}
}
