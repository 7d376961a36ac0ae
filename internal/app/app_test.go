package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// 测试创建模拟服务器
type mockServer struct {
	ShutdownCalled atomic.Bool
	listenErr      error
}

func (m *mockServer) ListenAndServe() error {
	return m.listenErr
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.ShutdownCalled.Store(true)
	return nil
}

func testConfig(t *testing.T, driver string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Port = "0"
	cfg.DebugMode = false
	cfg.StoreDriver = driver
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.SQLitePath = filepath.Join(dir, "data", "consciousness.db")
	cfg.JournalDir = filepath.Join(dir, "data", "journal")
	return cfg
}

func newTestApp(t *testing.T, driver string) *App {
	t.Helper()
	a, err := New(testConfig(t, driver))
	if err != nil {
		t.Fatalf("创建应用失败: %v", err)
	}
	t.Cleanup(a.cleanup)
	return a
}

// TestNew 测试应用初始化后路由可用
func TestNew(t *testing.T) {
	a := newTestApp(t, config.StoreDriverMemory)

	if a.Router() == nil {
		t.Fatal("路由应该已初始化")
	}
	if a.Config().StoreDriver != config.StoreDriverMemory {
		t.Errorf("配置未正确保存: %s", a.Config().StoreDriver)
	}
	if got := len(a.Catalog().ListAll()); got != 4 {
		t.Errorf("内置模式数量应为4，实际为%d", got)
	}

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("健康检查应返回200，实际为%d", w.Code)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("空配置应该返回错误")
	}

	cfg := testConfig(t, config.StoreDriverMemory)
	cfg.PatternCatalog = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg); err == nil {
		t.Error("模式库文件不存在时应该返回错误")
	}
}

// TestRun 测试应用运行和关闭
func TestRun(t *testing.T) {
	a := newTestApp(t, config.StoreDriverMemory)
	mockSrv := &mockServer{}
	a.server = mockSrv

	// 模拟发送停止信号
	go func() {
		time.Sleep(100 * time.Millisecond)
		a.stopChan <- syscall.SIGTERM
	}()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("运行应用失败: %v", err)
	}
	if !mockSrv.ShutdownCalled.Load() {
		t.Error("应该调用了server.Shutdown")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a := newTestApp(t, config.StoreDriverMemory)
	mockSrv := &mockServer{}
	a.server = mockSrv

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		t.Fatalf("ctx结束时不应返回错误: %v", err)
	}
	if !mockSrv.ShutdownCalled.Load() {
		t.Error("ctx结束时应该调用server.Shutdown")
	}
}

func TestRunReturnsServerError(t *testing.T) {
	a := newTestApp(t, config.StoreDriverMemory)
	mockSrv := &mockServer{listenErr: errors.New("address already in use")}
	a.server = mockSrv

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "address already in use") {
		t.Fatalf("应该返回监听错误，实际为: %v", err)
	}
	if !mockSrv.ShutdownCalled.Load() {
		t.Error("监听失败后也应调用server.Shutdown")
	}
}

// TestCleanup 测试资源清理
func TestCleanup(t *testing.T) {
	a := newTestApp(t, config.StoreDriverSQLite)

	body := fmt.Sprintf(`{"world_id":%q,"pattern_seed":"recursive-observation","initial_parameters":{},"visual_influences":["mirror"],"creator_id":"creator-1"}`, uuid.New())
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/consciousness/spawn", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("生成实例应返回200，实际为%d: %s", w.Code, w.Body.String())
	}

	a.cleanup()
	// 重复调用不应panic
	a.cleanup()

	files, err := filepath.Glob(filepath.Join(a.Config().JournalDir, "*.jsonl.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("应该写入一个日志归档文件，实际为%d", len(files))
	}

	if _, err := a.store.Get(context.Background(), uuid.New()); err == nil {
		t.Error("存储关闭后读取应该失败")
	}
}
