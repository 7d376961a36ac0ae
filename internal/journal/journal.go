// internal/journal/journal.go
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

// JSONLZstdWriter 按小时轮转的zstd压缩JSONL文件
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewJSONLZstdWriter 创建写入器，文件在第一次写入时才创建
func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write 序列化一行并写入当前小时的文件
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Record 日志归档中的一行
type Record struct {
	ConsciousnessID uuid.UUID       `json:"consciousness_id"`
	WorldID         uuid.UUID       `json:"world_id"`
	Entry           models.LogEntry `json:"entry"`
}

// EmergenceJournal 把意识实例的日志条目归档到压缩文件
type EmergenceJournal struct{ w *JSONLZstdWriter }

// NewEmergenceJournal 在dir下创建 emergence-<hour>.jsonl.zst
func NewEmergenceJournal(dir string) *EmergenceJournal {
	return &EmergenceJournal{w: NewJSONLZstdWriter(dir, "emergence")}
}

// Append 按顺序写入一组条目
func (j *EmergenceJournal) Append(instanceID, worldID uuid.UUID, entries []models.LogEntry) error {
	for _, e := range entries {
		if err := j.w.Write(Record{ConsciousnessID: instanceID, WorldID: worldID, Entry: e}); err != nil {
			return err
		}
	}
	return nil
}

func (j *EmergenceJournal) Close() error { return j.w.Close() }
