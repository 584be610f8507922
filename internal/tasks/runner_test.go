package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitSuccess(t *testing.T) {
	r := NewRunner(nil)

	job := r.Submit("bulk-index", func(context.Context) (any, error) {
		return map[string]int{"processed": 3}, nil
	})
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "bulk-index", job.Name)

	r.Wait()

	done, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, map[string]int{"processed": 3}, done.Result)
	assert.Empty(t, done.Error)
}

func TestSubmitFailure(t *testing.T) {
	r := NewRunner(nil)

	job := r.Submit("payload-sync", func(context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	r.Wait()

	failed, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "db down", failed.Error)
	assert.Nil(t, failed.Result)
}

func TestSubmitReturnsImmediately(t *testing.T) {
	r := NewRunner(nil)
	release := make(chan struct{})

	job := r.Submit("slow", func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	assert.Equal(t, StatusRunning, job.Status)

	running, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)

	close(release)
	r.Wait()

	done, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.GreaterOrEqual(t, done.Duration, time.Duration(0))
}

func TestGetUnknown(t *testing.T) {
	r := NewRunner(nil)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentJobs(t *testing.T) {
	r := NewRunner(nil)

	var ids []string
	for i := 0; i < 10; i++ {
		job := r.Submit("concurrent", func(context.Context) (any, error) {
			return nil, nil
		})
		ids = append(ids, job.ID)
	}
	r.Wait()

	seen := make(map[string]struct{})
	for _, id := range ids {
		job, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, job.Status)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 10)
}
