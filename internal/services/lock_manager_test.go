package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManagerSerializesSameID(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lm.ExecuteWithInstanceLock(context.Background(), "a", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen, "同一实例的操作不能并发执行")
}

func TestLockManagerDifferentIDsRunConcurrently(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithInstanceLock(context.Background(), "a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := lm.ExecuteWithInstanceLock(ctx, "b", func() error { return nil })
	assert.NoError(t, err, "不同实例之间不应该互相阻塞")
	close(release)
}

func TestLockManagerWaitHonorsContext(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = lm.ExecuteWithInstanceLock(context.Background(), "a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := lm.ExecuteWithInstanceLock(ctx, "a", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
	<-done
}

func TestLockManagerCleanup(t *testing.T) {
	lm := newLockManager(time.Millisecond, time.Hour)
	defer lm.Stop()

	require.NoError(t, lm.ExecuteWithInstanceLock(context.Background(), "a", func() error { return nil }))
	assert.Equal(t, 1, lm.Size())

	time.Sleep(5 * time.Millisecond)
	lm.cleanupUnusedLocks()
	assert.Equal(t, 0, lm.Size(), "过期且无人引用的锁应该被清理")
}
