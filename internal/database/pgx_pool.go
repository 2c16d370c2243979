package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"FrameTimeAnalyzer/internal/analysis"
	"FrameTimeAnalyzer/internal/config"
)

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS frame_reports (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL DEFAULT '',
	generated_at TIMESTAMPTZ NOT NULL,
	frames       INTEGER NOT NULL,
	grade        TEXT NOT NULL DEFAULT '',
	report       JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS frame_reports_generated_at_idx ON frame_reports (generated_at DESC)`,
}

// PgxStore PostgreSQL 报告存储
type PgxStore struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// PoolConfig 由数据库配置生成连接池配置
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 设置连接池参数
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Hour         // 连接最大生命周期
	poolConfig.MaxConnIdleTime = 30 * time.Minute  // 连接最大空闲时间
	poolConfig.HealthCheckPeriod = 1 * time.Minute // 健康检查周期
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	return poolConfig, nil
}

// ConnectPgx 连接 PostgreSQL，连接和 ping 失败时按指数退避重试
func ConnectPgx(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (*PgxStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("module", "database")

	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		pool = p
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), ctx)
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("PostgreSQL连接失败，稍后重试")
	}
	if err := backoff.RetryNotify(connect, b, notify); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"host":      cfg.Host,
		"db":        cfg.DBName,
		"max_conns": poolConfig.MaxConns,
	}).Info("✅ PostgreSQL连接池创建成功")
	return &PgxStore{pool: pool, log: log}, nil
}

// EnsureSchema 创建报告表
func (s *PgxStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaSQL {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Save 实现 ReportStore
func (s *PgxStore) Save(ctx context.Context, r *analysis.Report) error {
	if r == nil || r.ID == "" {
		return ErrMissingID
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	generated := time.Now().UTC()
	if r.GeneratedAt != nil {
		generated = *r.GeneratedAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO frame_reports (id, source, generated_at, frames, grade, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			generated_at = EXCLUDED.generated_at,
			frames = EXCLUDED.frames,
			grade = EXCLUDED.grade,
			report = EXCLUDED.report`,
		r.ID, r.Source, generated, r.Series.Frames, r.Findings.Grade, data)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

// Get 实现 ReportStore
func (s *PgxStore) Get(ctx context.Context, id string) (*analysis.Report, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM frame_reports WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return decodeReport(data)
}

// List 实现 ReportStore
func (s *PgxStore) List(ctx context.Context, limit, offset int) ([]*analysis.Report, int, error) {
	limit, offset = normalizePage(limit, offset)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM frame_reports`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT report FROM frame_reports ORDER BY generated_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*analysis.Report, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		return decodeReport(data)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	return reports, total, nil
}

// Delete 实现 ReportStore
func (s *PgxStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM frame_reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping 实现 ReportStore
func (s *PgxStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stat 连接池统计信息
func (s *PgxStore) Stat() *pgxpool.Stat {
	return s.pool.Stat()
}

// Close 关闭连接池
func (s *PgxStore) Close() {
	s.pool.Close()
	s.log.Info("✅ PostgreSQL连接池已关闭")
}

func decodeReport(data []byte) (*analysis.Report, error) {
	var r analysis.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

var _ ReportStore = (*PgxStore)(nil)
var _ ReportStore = (*MemoryStore)(nil)
