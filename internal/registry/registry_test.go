package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunExclusive_CollapsesConcurrentCallers(t *testing.T) {
	r := New()

	var runs int32
	var wg sync.WaitGroup

	start := make(chan struct{})
	results := make([]error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = r.RunExclusive(context.Background(), "asset:42", func() error {
				atomic.AddInt32(&runs, 1)
				time.Sleep(50 * time.Millisecond)
				return nil
			})
		}(i)
	}

	close(start)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&runs), "exactly one build must run")
	for _, err := range results {
		require.NoError(t, err)
	}
}

func TestRunExclusive_FailurePropagatesToAllWaiters(t *testing.T) {
	r := New()

	buildErr := errors.New("encoder exited with code 1")
	var wg sync.WaitGroup
	results := make([]error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.RunExclusive(context.Background(), "asset:7:segment_00001.ts", func() error {
				time.Sleep(20 * time.Millisecond)
				return buildErr
			})
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		require.ErrorIs(t, err, buildErr)
	}
}

func TestRunExclusive_RetriesCleanlyAfterFailure(t *testing.T) {
	r := New()

	err := r.RunExclusive(context.Background(), "k", func() error {
		return errors.New("boom")
	})
	require.Error(t, err)

	// the key must have been released, so a fresh build runs
	var ran bool
	err = r.RunExclusive(context.Background(), "k", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestJoin_OwnerAndJoinerRoles(t *testing.T) {
	r := New()

	job, owner := r.Join("k")
	require.True(t, owner)

	same, second := r.Join("k")
	require.False(t, second)
	require.Same(t, job, same)

	done := make(chan error, 1)
	go func() {
		done <- same.Wait(context.Background())
	}()

	job.Finish(nil)
	require.NoError(t, <-done)
}

func TestWait_RespectsContext(t *testing.T) {
	r := New()

	job, owner := r.Join("k")
	require.True(t, owner)
	defer job.Finish(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	joined, _ := r.Join("k")
	err := joined.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
