// internal/storage/file_store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/utils"
)

const (
	instancesDir = "instances"

	// 跨进程写锁文件的轮询间隔与过期时间
	lockPollInterval = 5 * time.Millisecond
	staleLockAge     = 10 * time.Second
)

// FileStore 每个实例一个JSON文件的存储
type FileStore struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	// 简单缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *utils.Logger
}

// CacheEntry 缓存条目，ModTime/Size 与磁盘上的文件不一致时作废
type CacheEntry struct {
	Instance  *models.Instance
	Timestamp time.Time
	ModTime   time.Time
	Size      int64
}

// NewFileStore 创建文件存储
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, instancesDir), 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStore{
		BaseDir:      baseDir,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
		stopCh:       make(chan struct{}),
		logger:       utils.GetLogger(),
	}

	// 启动缓存清理
	fs.startCacheCleanup(2 * time.Minute)

	return fs, nil
}

var _ Store = (*FileStore)(nil)

func (fs *FileStore) pathFor(id uuid.UUID) string {
	return filepath.Join(fs.BaseDir, instancesDir, id.String()+".json")
}

// 获取文件锁
func (fs *FileStore) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStore) Create(ctx context.Context, inst *models.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := prepareCreate(inst)
	if err != nil {
		return err
	}

	fullPath := fs.pathFor(c.ID)
	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	release, err := fs.lockOnDisk(ctx, fullPath)
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(fullPath); err == nil {
		return ErrExists
	}
	return fs.writeInstance(fullPath, c)
}

func (fs *FileStore) Get(ctx context.Context, id uuid.UUID) (*models.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath := fs.pathFor(id)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	inst, err := fs.readInstance(fullPath)
	if err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

func (fs *FileStore) Apply(ctx context.Context, id uuid.UUID, change Change) (*models.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath := fs.pathFor(id)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	// 其他进程可能共享同一目录，版本检查必须基于磁盘上的内容
	release, err := fs.lockOnDisk(ctx, fullPath)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := fs.readFromDisk(fullPath)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := applyChange(next, change); err != nil {
		return nil, err
	}
	if err := fs.writeInstance(fullPath, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (fs *FileStore) ListByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Instance, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, instancesDir))
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	list := make([]*models.Instance, 0)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		inst, err := fs.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if inst.WorldID == worldID {
			list = append(list, inst)
		}
	}
	sortByCreation(list)
	return list, nil
}

// Close 停止缓存清理
func (fs *FileStore) Close() error {
	fs.stopOnce.Do(func() { close(fs.stopCh) })
	fs.wg.Wait()
	return nil
}

// readInstance 调用方必须持有文件锁，文件被其他进程改写后缓存不再命中
func (fs *FileStore) readInstance(fullPath string) (*models.Instance, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			fs.dropCache(fullPath)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}

	fs.cacheMutex.RLock()
	entry, exists := fs.cache[fullPath]
	fs.cacheMutex.RUnlock()
	if exists && time.Since(entry.Timestamp) < fs.cacheExpiry &&
		entry.ModTime.Equal(info.ModTime()) && entry.Size == info.Size() {
		return entry.Instance, nil
	}
	return fs.readFromDisk(fullPath)
}

// readFromDisk 绕过缓存读取文件并刷新缓存
func (fs *FileStore) readFromDisk(fullPath string) (*models.Instance, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			fs.dropCache(fullPath)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}
	var inst models.Instance
	if err := json.NewDecoder(f).Decode(&inst); err != nil {
		return nil, fmt.Errorf("解析JSON失败: %w", err)
	}

	fs.updateCache(fullPath, &inst, info)
	return &inst, nil
}

// lockOnDisk 用 O_EXCL 创建锁文件实现跨进程互斥，超过 staleLockAge 的锁视为崩溃遗留
func (fs *FileStore) lockOnDisk(ctx context.Context, fullPath string) (func(), error) {
	lockPath := fullPath + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() {
				if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
					fs.logger.Warn("删除锁文件失败", map[string]interface{}{
						"path":  lockPath,
						"error": err.Error(),
					})
				}
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("创建锁文件失败: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			fs.logger.Warn("清理过期锁文件", map[string]interface{}{"path": lockPath})
			_ = os.Remove(lockPath)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// writeInstance 原子写入，调用方必须持有写锁
func (fs *FileStore) writeInstance(fullPath string, inst *models.Instance) error {
	content, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fs.logger.Warn("清理临时文件失败", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr.Error(),
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		fs.dropCache(fullPath)
		return nil
	}
	fs.updateCache(fullPath, inst.Clone(), info)
	return nil
}

// 缓存管理
func (fs *FileStore) updateCache(path string, inst *models.Instance, info os.FileInfo) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{
		Instance:  inst,
		Timestamp: time.Now(),
		ModTime:   info.ModTime(),
		Size:      info.Size(),
	}
	if len(fs.cache) > fs.maxCacheSize {
		fs.evictOldestLocked(len(fs.cache) - fs.maxCacheSize)
	}
}

func (fs *FileStore) dropCache(path string) {
	fs.cacheMutex.Lock()
	delete(fs.cache, path)
	fs.cacheMutex.Unlock()
}

func (fs *FileStore) startCacheCleanup(interval time.Duration) {
	fs.wg.Add(1)
	go func() {
		defer fs.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fs.cleanupExpiredCache()
			case <-fs.stopCh:
				return
			}
		}
	}()
}

// 清理过期缓存
func (fs *FileStore) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.Timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}

func (fs *FileStore) evictOldestLocked(n int) {
	type keyed struct {
		key string
		ts  time.Time
	}
	entries := make([]keyed, 0, len(fs.cache))
	for key, entry := range fs.cache {
		entries = append(entries, keyed{key, entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })

	for i := 0; i < n && i < len(entries); i++ {
		delete(fs.cache, entries[i].key)
	}
	fs.logger.Debug("缓存大小限制执行", map[string]interface{}{"removed": n})
}
