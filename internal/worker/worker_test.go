package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	wp := NewWorkerPool(2, 16)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		wp.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	wp.Shutdown() // drains the queue

	assert.Equal(t, int32(5), ran.Load())
}

func TestWorkerPool_DropsSubmissionsAfterShutdown(t *testing.T) {
	wp := NewWorkerPool(1, 4)
	wp.Shutdown()

	var ran atomic.Int32
	wp.Submit(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	assert.Equal(t, int32(0), ran.Load(), "submission after shutdown is dropped, not run")
}

func TestWorkerPool_DefaultQueueSize(t *testing.T) {
	wp := NewWorkerPool(1, 0)
	defer wp.Shutdown()

	assert.Equal(t, defaultQueueSize, cap(wp.taskQueue))
}
