// internal/services/lock_manager.go
package services

import (
	"context"
	"sync"
	"time"
)

// LockManager 按实例ID分配互斥锁
type LockManager struct {
	instanceLocks map[string]*LockInfo
	globalLock    sync.Mutex
	lockTTL       time.Duration

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	sem            chan struct{}
	LastUsed       time.Time
	ReferenceCount int32 // 正在等待或持有锁的调用数，大于0时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return newLockManager(10*time.Minute, 5*time.Minute)
}

func newLockManager(ttl, cleanupInterval time.Duration) *LockManager {
	lm := &LockManager{
		instanceLocks: make(map[string]*LockInfo),
		lockTTL:       ttl,
		stopCh:        make(chan struct{}),
	}

	// 启动清理器
	lm.startCleanup(cleanupInterval)
	return lm
}

// acquireRef 取得锁信息并增加引用计数
func (lm *LockManager) acquireRef(id string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.instanceLocks[id]
	if !exists {
		info = &LockInfo{sem: make(chan struct{}, 1)}
		lm.instanceLocks[id] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) releaseRef(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info.ReferenceCount--
	info.LastUsed = time.Now()
}

// ExecuteWithInstanceLock 在实例锁保护下执行操作
//
// 等待锁的过程受ctx约束，超时或取消时返回ctx的错误且不执行fn。
func (lm *LockManager) ExecuteWithInstanceLock(ctx context.Context, id string, fn func() error) error {
	info := lm.acquireRef(id)
	defer lm.releaseRef(info)

	select {
	case info.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-info.sem }()

	return fn()
}

// Size 当前跟踪的锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.instanceLocks)
}

// Stop 停止清理器
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() { close(lm.stopCh) })
	lm.wg.Wait()
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup(interval time.Duration) {
	lm.cleanupTicker = time.NewTicker(interval)
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		defer lm.cleanupTicker.Stop()
		for {
			select {
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks()
			case <-lm.stopCh:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	for id, info := range lm.instanceLocks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.instanceLocks, id)
		}
	}
}
