package database

import (
	"context"
	"errors"
	"sync"

	"FrameTimeAnalyzer/internal/analysis"
)

var (
	// ErrNotFound 报告不存在
	ErrNotFound = errors.New("report not found")
	// ErrMissingID 报告未调用 Identify
	ErrMissingID = errors.New("report has no id")
)

// DefaultListLimit List 未指定 limit 时的默认条数
const DefaultListLimit = 50

// MaxListLimit List 允许的最大条数
const MaxListLimit = 500

// ReportStore 分析报告存储
type ReportStore interface {
	// Save 保存报告，相同 ID 覆盖
	Save(ctx context.Context, r *analysis.Report) error
	Get(ctx context.Context, id string) (*analysis.Report, error)
	// List 按生成时间倒序分页，返回当前页和总数
	List(ctx context.Context, limit, offset int) ([]*analysis.Report, int, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close()
}

// normalizePage 规范化分页参数
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// MemoryStore 内存存储，未启用数据库时使用
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*analysis.Report
	order   []string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*analysis.Report)}
}

// Save 实现 ReportStore
func (m *MemoryStore) Save(_ context.Context, r *analysis.Report) error {
	if r == nil || r.ID == "" {
		return ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.reports[r.ID] = r
	return nil
}

// Get 实现 ReportStore
func (m *MemoryStore) Get(_ context.Context, id string) (*analysis.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// List 实现 ReportStore，按保存顺序倒序
func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*analysis.Report, int, error) {
	limit, offset = normalizePage(limit, offset)

	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.order)
	out := make([]*analysis.Report, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.reports[m.order[i]])
	}
	return out, total, nil
}

// Delete 实现 ReportStore
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[id]; !ok {
		return ErrNotFound
	}
	delete(m.reports, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Ping 实现 ReportStore
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close 实现 ReportStore
func (m *MemoryStore) Close() {}
