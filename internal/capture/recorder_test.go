package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FrameTimeAnalyzer/internal/frames"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Duration(ms * float64(time.Millisecond)))
}

// recordFrame 录制一帧：各阶段依次推进时钟，最后再推进 extra 毫秒
func recordFrame(t *testing.T, r *Recorder, clock *fakeClock, stages map[string]float64, order []string, extra float64) frames.Sample {
	t.Helper()
	require.NoError(t, r.BeginFrame())
	for _, name := range order {
		stop := r.Time(name)
		clock.Advance(stages[name])
		stop()
	}
	clock.Advance(extra)
	sample, err := r.EndFrame()
	require.NoError(t, err)
	return sample
}

// TestRecorder_Frames 测试帧耗时与时间戳
func TestRecorder_Frames(t *testing.T) {
	clock := newFakeClock()
	r := NewRecorder(WithClock(clock.Now))
	order := []string{"Poll Events", "Render Components"}

	first := recordFrame(t, r, clock, map[string]float64{"Poll Events": 0.25, "Render Components": 1.5}, order, 0.25)
	assert.InDelta(t, 2.0, first.FrameTimeMs, 1e-9)
	assert.InDelta(t, 2.0, first.TimestampMs, 1e-9)
	assert.InDelta(t, 500.0, first.FPS, 1e-9)
	assert.InDeltaSlice(t, []float64{0.25, 1.5}, first.Stages, 1e-9)

	clock.Advance(1) // 帧间空闲
	second := recordFrame(t, r, clock, map[string]float64{"Poll Events": 0.5, "Render Components": 2.5}, order, 1)
	assert.InDelta(t, 4.0, second.FrameTimeMs, 1e-9)
	assert.InDelta(t, 7.0, second.TimestampMs, 1e-9)

	s := r.Series()
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []frames.Field{frames.FieldPollEvents, frames.FieldRenderComponents}, s.Stages)
	require.NoError(t, s.Validate())
}

// TestRecorder_StageStats 测试阶段运行统计
func TestRecorder_StageStats(t *testing.T) {
	clock := newFakeClock()
	r := NewRecorder(WithClock(clock.Now))

	recordFrame(t, r, clock, map[string]float64{"End Frame": 1}, []string{"End Frame"}, 1)
	recordFrame(t, r, clock, map[string]float64{"End Frame": 3}, []string{"End Frame"}, 1)

	st := r.Stats()
	require.Len(t, st.Stages, 1)
	es := st.Stages[0]
	assert.Equal(t, "End Frame", es.Name)
	assert.Equal(t, frames.FieldEndFrame, es.Field)
	assert.Equal(t, int64(2), es.Samples)
	assert.InDelta(t, 3.0, es.Current, 1e-9)
	assert.InDelta(t, 1.0, es.Min, 1e-9)
	assert.InDelta(t, 3.0, es.Max, 1e-9)
	alpha := 2.0 / (StatsWindow + 1)
	assert.InDelta(t, alpha*3+(1-alpha)*1, es.Average, 1e-9)
	assert.InDelta(t, 75.0, es.Percent, 1e-9)
}

// TestRecorder_LateStageAndCounters 中途出现的阶段在早期帧补 0，计数器每帧重置
func TestRecorder_LateStageAndCounters(t *testing.T) {
	clock := newFakeClock()
	r := NewRecorder(WithClock(clock.Now))

	require.NoError(t, r.BeginFrame())
	require.NoError(t, r.IncrementCounter("Draw Calls", 3))
	clock.Advance(1)
	_, err := r.EndFrame()
	require.NoError(t, err)

	require.NoError(t, r.BeginFrame())
	require.NoError(t, r.AddStageSample("Text", 0.4))
	require.NoError(t, r.AddStageSample("Text", 0.1))
	require.NoError(t, r.IncrementCounter("Draw Calls", 5))
	clock.Advance(1)
	_, err = r.EndFrame()
	require.NoError(t, err)

	s := r.Series()
	assert.Equal(t, []frames.Field{"text_ms"}, s.Stages)
	assert.Equal(t, []frames.Field{"draw_calls"}, s.Counters)
	assert.Equal(t, []float64{0}, s.Samples[0].Stages)
	assert.InDeltaSlice(t, []float64{0.5}, s.Samples[1].Stages, 1e-12)
	assert.Equal(t, []float64{3}, s.Samples[0].Counters)
	assert.Equal(t, []float64{5}, s.Samples[1].Counters)
}

// TestRecorder_Budget 超预算计数与实时分位数
func TestRecorder_Budget(t *testing.T) {
	clock := newFakeClock()
	r := NewRecorder(WithClock(clock.Now), WithFrameBudget(5))

	_, ok := r.LiveQuantile(0.5)
	assert.False(t, ok)

	for i := 0; i < 100; i++ {
		require.NoError(t, r.BeginFrame())
		if i%10 == 0 {
			clock.Advance(20)
		} else {
			clock.Advance(2)
		}
		_, err := r.EndFrame()
		require.NoError(t, err)
	}

	st := r.Stats()
	assert.Equal(t, int64(100), st.FramesRecorded)
	assert.Equal(t, int64(10), st.FramesOverBudget)
	assert.Equal(t, 5.0, st.FrameBudgetMs)

	p50, ok := r.LiveQuantile(0.5)
	require.True(t, ok)
	assert.InDelta(t, 2.0, p50, 0.5)
	p99, _ := r.LiveQuantile(0.99)
	assert.Greater(t, p99, 10.0)
}

// TestRecorder_FrameState 帧状态错误
func TestRecorder_FrameState(t *testing.T) {
	r := NewRecorder()
	assert.ErrorIs(t, r.AddStageSample("x", 1), ErrFrameNotStarted)
	assert.ErrorIs(t, r.IncrementCounter("x", 1), ErrFrameNotStarted)
	_, err := r.EndFrame()
	assert.ErrorIs(t, err, ErrFrameNotStarted)

	require.NoError(t, r.BeginFrame())
	assert.ErrorIs(t, r.BeginFrame(), ErrFrameInProgress)
}
