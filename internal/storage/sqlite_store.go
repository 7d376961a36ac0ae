// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Ian-Tharp/Procedural-Worlds-Platform/internal/models"
)

// SQLiteStore 基于SQLite的实例存储，日志按序号存储在单独的表中
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开（必要时创建）数据库文件
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("数据库路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	// 写事务在开始时就取得写锁，多个进程共享同一文件时排队而不是在升级锁时失败
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// 单连接，写入天然串行
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			pattern_seed TEXT NOT NULL,
			current_phase INTEGER NOT NULL,
			persona TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_instances_world ON instances(world_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			ts TEXT NOT NULL,
			event TEXT NOT NULL,
			thought TEXT NOT NULL,
			phase INTEGER NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("初始化表结构失败: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func (s *SQLiteStore) Create(ctx context.Context, inst *models.Instance) error {
	c, err := prepareCreate(inst)
	if err != nil {
		return err
	}
	persona, err := json.Marshal(c.Persona)
	if err != nil {
		return fmt.Errorf("序列化人格状态失败: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = ?`, c.ID.String()).Scan(&exists)
	if err == nil {
		return ErrExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO instances (id, world_id, pattern_seed, current_phase, persona, creator_id, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.WorldID.String(), c.PatternSeed, c.CurrentPhase, string(persona),
		c.CreatorID, c.Version, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("写入实例失败: %w", err)
	}
	if err := insertEntries(ctx, tx, c.ID, 0, c.Log); err != nil {
		return err
	}
	return tx.Commit()
}

// querier 由 *sql.DB 和 *sql.Tx 共同实现
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.Instance, error) {
	return getInstance(ctx, s.db, id)
}

func getInstance(ctx context.Context, q querier, id uuid.UUID) (*models.Instance, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, world_id, pattern_seed, current_phase, persona, creator_id, version, created_at, updated_at
		 FROM instances WHERE id = ?`, id.String())
	inst, err := scanInstance(row)
	if err != nil {
		return nil, err
	}
	if inst.Log, err = loadEntries(ctx, q, id); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) Apply(ctx context.Context, id uuid.UUID, change Change) (*models.Instance, error) {
	persona, err := json.Marshal(change.Persona)
	if err != nil {
		return nil, fmt.Errorf("序列化人格状态失败: %w", err)
	}
	updatedAt := change.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM instances WHERE id = ?`, id.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if version != change.ExpectedVersion {
		return nil, fmt.Errorf("%w: expected %d, have %d", ErrConflict, change.ExpectedVersion, version)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE instances SET current_phase = ?, persona = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		change.Phase, string(persona), formatTime(updatedAt), id.String(), change.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("更新实例失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrConflict
	}

	var lastSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM log_entries WHERE instance_id = ?`, id.String()).Scan(&lastSeq); err != nil {
		return nil, err
	}
	if err := insertEntries(ctx, tx, id, lastSeq, change.Entries); err != nil {
		return nil, err
	}
	// 提交前在同一事务内读出结果，提交成功即返回成功
	updated, err := getInstance(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) ListByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, world_id, pattern_seed, current_phase, persona, creator_id, version, created_at, updated_at
		 FROM instances WHERE world_id = ? ORDER BY created_at, id`, worldID.String())
	if err != nil {
		return nil, err
	}

	list := make([]*models.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// 单连接下必须先关闭上面的游标再查询日志
	for _, inst := range list {
		if inst.Log, err = loadEntries(ctx, s.db, inst.ID); err != nil {
			return nil, err
		}
	}
	sortByCreation(list)
	return list, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		id, worldID, persona, created, updated string
		inst                                   models.Instance
	)
	err := row.Scan(&id, &worldID, &inst.PatternSeed, &inst.CurrentPhase, &persona,
		&inst.CreatorID, &inst.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if inst.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("损坏的实例ID %q: %w", id, err)
	}
	if inst.WorldID, err = uuid.Parse(worldID); err != nil {
		return nil, fmt.Errorf("损坏的世界ID %q: %w", worldID, err)
	}
	if err := json.Unmarshal([]byte(persona), &inst.Persona); err != nil {
		return nil, fmt.Errorf("解析人格状态失败: %w", err)
	}
	if inst.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if inst.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &inst, nil
}

func loadEntries(ctx context.Context, q querier, id uuid.UUID) ([]models.LogEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ts, event, thought, phase, context FROM log_entries WHERE instance_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0)
	for rows.Next() {
		var (
			e  models.LogEntry
			ts string
		)
		if err := rows.Scan(&ts, &e.Event, &e.Thought, &e.Phase, &e.Context); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertEntries(ctx context.Context, tx *sql.Tx, id uuid.UUID, after int64, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO log_entries (instance_id, seq, ts, event, thought, phase, context) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, id.String(), after+int64(i)+1, formatTime(e.Timestamp),
			string(e.Event), e.Thought, e.Phase, e.Context); err != nil {
			return fmt.Errorf("写入日志失败: %w", err)
		}
	}
	return nil
}
