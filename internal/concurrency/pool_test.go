package concurrency

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"fundingkeeper/internal/logging"
)

func TestWorkerPoolRunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2, MaxCapacity: 10}, logging.NewNop())

	var n int64
	for i := 0; i < 20; i++ {
		err := pool.Submit(func() { atomic.AddInt64(&n, 1) })
		assert.NoError(t, err)
	}

	pool.Stop() // StopAndWait: blocks until every submitted task has run

	assert.Equal(t, int64(20), atomic.LoadInt64(&n))
}
