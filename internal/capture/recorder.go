package capture

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"

	"FrameTimeAnalyzer/internal/frames"
)

const (
	// StatsWindow 阶段滑动平均的等效窗口（帧）
	StatsWindow = 600
	// DefaultFrameBudgetMs 默认帧预算 60Hz
	DefaultFrameBudgetMs = 1000.0 / 60.0
)

var (
	// ErrFrameNotStarted 未调用 BeginFrame
	ErrFrameNotStarted = errors.New("frame not started")
	// ErrFrameInProgress 上一帧尚未结束
	ErrFrameInProgress = errors.New("frame already in progress")
)

// StageStats 单个阶段的运行统计
type StageStats struct {
	Name    string       `json:"name"`
	Field   frames.Field `json:"field"`
	Current float64      `json:"current_ms"`
	// Average 指数滑动平均，alpha = 2/(StatsWindow+1)
	Average float64 `json:"average_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	// Percent 最近一帧中该阶段占帧耗时的百分比
	Percent float64 `json:"percent"`
	Samples int64   `json:"samples"`
}

func (s *StageStats) update(v, frameMs float64) {
	const alpha = 2.0 / (StatsWindow + 1)
	s.Current = v
	if s.Samples == 0 {
		s.Average, s.Min, s.Max = v, v, v
	} else {
		s.Average = alpha*v + (1-alpha)*s.Average
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if frameMs > 0 {
		s.Percent = v / frameMs * 100
	} else {
		s.Percent = 0
	}
	s.Samples++
}

// RecorderStats 录制器快照
type RecorderStats struct {
	FramesRecorded   int64        `json:"frames_recorded"`
	FramesOverBudget int64        `json:"frames_over_budget"`
	FrameBudgetMs    float64      `json:"frame_budget_ms"`
	Stages           []StageStats `json:"stages"`
}

// recordedFrame 已结束的帧，阶段值按当时的阶段顺序存放
type recordedFrame struct {
	timestampMs float64
	frameTimeMs float64
	stages      []float64
	counters    []float64
}

// Recorder 进程内帧耗时录制器
type Recorder struct {
	now      func() time.Time
	budgetMs float64

	mu         sync.Mutex
	start      time.Time
	frameStart time.Time
	inFrame    bool

	stageOrder   []frames.Field
	stageIndex   map[frames.Field]int
	stageStats   []*StageStats
	counterOrder []frames.Field
	counterIndex map[frames.Field]int

	// 当前帧累计值
	curStages   []float64
	curTouched  []bool
	curCounters []float64

	recorded []recordedFrame
	digest   *tdigest.TDigest

	framesRecorded atomic.Int64
	overBudget     atomic.Int64
}

// RecorderOption 录制器选项
type RecorderOption func(*Recorder)

// WithClock 注入时钟，便于测试
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithFrameBudget 设置帧预算（毫秒）
func WithFrameBudget(ms float64) RecorderOption {
	return func(r *Recorder) {
		if ms > 0 {
			r.budgetMs = ms
		}
	}
}

// NewRecorder 创建录制器，采集起点为创建时刻
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		now:          time.Now,
		budgetMs:     DefaultFrameBudgetMs,
		stageIndex:   make(map[frames.Field]int),
		counterIndex: make(map[frames.Field]int),
		recorded:     make([]recordedFrame, 0, 1024),
		digest:       tdigest.NewWithCompression(100),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.now()
	return r
}

// BeginFrame 开始新的一帧
func (r *Recorder) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFrame {
		return ErrFrameInProgress
	}
	r.inFrame = true
	r.frameStart = r.now()
	r.curStages = make([]float64, len(r.stageOrder))
	r.curTouched = make([]bool, len(r.stageOrder))
	r.curCounters = make([]float64, len(r.counterOrder))
	return nil
}

// AddStageSample 为当前帧的阶段累加耗时，同一帧内多次调用会求和
func (r *Recorder) AddStageSample(name string, ms float64) error {
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inFrame {
		return ErrFrameNotStarted
	}
	i := r.stageSlot(name)
	r.curStages[i] += ms
	r.curTouched[i] = true
	return nil
}

// Time 以录制器时钟计时一个阶段，返回的函数在阶段结束时调用
func (r *Recorder) Time(name string) func() {
	begin := r.now()
	return func() {
		_ = r.AddStageSample(name, durationMs(r.now().Sub(begin)))
	}
}

// IncrementCounter 当前帧计数器加 n，每帧重置
func (r *Recorder) IncrementCounter(name string, n float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inFrame {
		return ErrFrameNotStarted
	}
	f := frames.CounterField(name)
	i, ok := r.counterIndex[f]
	if !ok {
		i = len(r.counterOrder)
		r.counterIndex[f] = i
		r.counterOrder = append(r.counterOrder, f)
		r.curCounters = append(r.curCounters, 0)
	}
	r.curCounters[i] += n
	return nil
}

// EndFrame 结束当前帧并返回该帧采样
func (r *Recorder) EndFrame() (frames.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inFrame {
		return frames.Sample{}, ErrFrameNotStarted
	}
	r.inFrame = false

	end := r.now()
	frameMs := durationMs(end.Sub(r.frameStart))
	rec := recordedFrame{
		timestampMs: durationMs(end.Sub(r.start)),
		frameTimeMs: frameMs,
		stages:      r.curStages,
		counters:    r.curCounters,
	}
	r.recorded = append(r.recorded, rec)

	// 只更新本帧实际采样过的阶段
	for i, v := range rec.stages {
		if r.curTouched[i] {
			r.stageStats[i].update(v, frameMs)
		}
	}
	r.digest.Add(frameMs, 1)
	r.framesRecorded.Add(1)
	if frameMs > r.budgetMs {
		r.overBudget.Add(1)
	}

	return r.sampleOf(rec), nil
}

// LiveQuantile 所有已录制帧耗时的近似分位数 (q 取 0~1)
func (r *Recorder) LiveQuantile(q float64) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.recorded) == 0 {
		return 0, false
	}
	return r.digest.Quantile(q), true
}

// Stats 返回运行统计快照
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := RecorderStats{
		FramesRecorded:   r.framesRecorded.Load(),
		FramesOverBudget: r.overBudget.Load(),
		FrameBudgetMs:    r.budgetMs,
		Stages:           make([]StageStats, len(r.stageStats)),
	}
	for i, s := range r.stageStats {
		out.Stages[i] = *s
	}
	return out
}

// Series 导出为采样序列；中途出现的阶段在此前的帧中记为 0，保证列布局统一
func (r *Recorder) Series() *frames.Series {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := frames.NewSeries(r.stageOrder, r.counterOrder)
	for _, rec := range r.recorded {
		_ = s.Append(r.sampleOf(rec))
	}
	return s
}

// sampleOf 按当前列布局补齐一帧
func (r *Recorder) sampleOf(rec recordedFrame) frames.Sample {
	stages := make([]float64, len(r.stageOrder))
	copy(stages, rec.stages)
	counters := make([]float64, len(r.counterOrder))
	copy(counters, rec.counters)
	return frames.Sample{
		TimestampMs: rec.timestampMs,
		FrameTimeMs: rec.frameTimeMs,
		FPS:         DeriveFPS(rec.frameTimeMs),
		Stages:      stages,
		Counters:    counters,
	}
}

// stageSlot 查找或注册阶段列，调用方持有锁
func (r *Recorder) stageSlot(name string) int {
	f := frames.StageField(name)
	if i, ok := r.stageIndex[f]; ok {
		return i
	}
	i := len(r.stageOrder)
	r.stageIndex[f] = i
	r.stageOrder = append(r.stageOrder, f)
	r.stageStats = append(r.stageStats, &StageStats{Name: name, Field: f})
	r.curStages = append(r.curStages, 0)
	r.curTouched = append(r.curTouched, false)
	return i
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
