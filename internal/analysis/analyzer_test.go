package analysis

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FrameTimeAnalyzer/internal/frames"
)

func buildSeries(t testing.TB, frameTimes []float64) *frames.Series {
	t.Helper()
	s := frames.NewSeries(nil, nil)
	ts := 0.0
	for _, ft := range frameTimes {
		ts += ft
		fps := 0.0
		if ft > 0 {
			fps = 1000 / ft
		}
		require.NoError(t, s.Append(frames.Sample{TimestampMs: ts, FrameTimeMs: ft, FPS: fps}))
	}
	return s
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func quietAnalyzer(opts Options) (*Analyzer, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return NewAnalyzer(opts, log), hook
}

// TestAnalyze_ConstantSeries 40 帧恒定 1ms，跳过 30 帧
func TestAnalyze_ConstantSeries(t *testing.T) {
	a, _ := quietAnalyzer(DefaultOptions())
	r := a.Analyze(buildSeries(t, repeat(1.0, 40)))

	assert.Equal(t, 40, r.Series.TotalSamples)
	assert.Equal(t, 30, r.Series.WarmupApplied)
	assert.Equal(t, 10, r.Series.Frames)
	assert.Empty(t, r.Series.Warning)

	require.Len(t, r.Bands, 1)
	assert.Equal(t, frames.BandFast, r.Bands[0].Band)
	assert.Equal(t, 10, r.Bands[0].Count)
	assert.InDelta(t, 100.0, r.Bands[0].Percent, 1e-9)

	assert.Equal(t, 0, r.FrameDrops.Count)
	assert.Equal(t, 0, r.Stutters.Count)
	assert.Equal(t, VerdictInsufficientData, r.Periodicity.Verdict)
	assert.Equal(t, 0, r.Periodicity.SpikeFrames)
	assert.Nil(t, r.Periodicity.IndexGaps)

	ft := r.FrameTime()
	assert.Equal(t, 1.0, ft.Mean)
	require.NotNil(t, ft.StdDev)
	assert.Equal(t, 0.0, *ft.StdDev)
	require.NotNil(t, r.Series.RuntimeSeconds)
	assert.InDelta(t, 0.040, *r.Series.RuntimeSeconds, 1e-9)

	assert.Nil(t, r.Attribution, "no stage fields means no attribution section")
	_, ok := r.Field(frames.FieldUnaccounted.String())
	assert.False(t, ok)
	assert.Equal(t, "A+", r.Findings.Grade)
}

// TestAnalyze_AlternatingSpikes 1ms 与 5ms 交替，Spike 间隔恒为 2
func TestAnalyze_AlternatingSpikes(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 1.0
		if i%2 == 1 {
			values[i] = 5.0
		}
	}
	opts := DefaultOptions()
	opts.WarmupFrames = 0
	a, _ := quietAnalyzer(opts)
	r := a.Analyze(buildSeries(t, values))

	spike, ok := r.Band(frames.BandSpike)
	require.True(t, ok)
	assert.Equal(t, 50, spike.Count)
	assert.Nil(t, spike.UpperMs)

	require.NotNil(t, r.Periodicity.IndexGaps)
	gaps := r.Periodicity.IndexGaps
	assert.Equal(t, 49, gaps.Count)
	assert.Equal(t, 2.0, gaps.Mean)
	assert.Equal(t, 0.0, gaps.StdDev)
	assert.Equal(t, 2, gaps.Mode)
	assert.Equal(t, VerdictDeterministic, r.Periodicity.Verdict)
	require.NotNil(t, r.Periodicity.MeanTimeGapMs)
	assert.InDelta(t, 6.0, *r.Periodicity.MeanTimeGapMs, 1e-9)

	// 平均 3ms，阈值 6ms，5ms 帧不算卡顿
	assert.Equal(t, 0, r.Stutters.Count)
	assert.InDelta(t, 6.0, r.Stutters.ThresholdMs, 1e-9)

	ids := make([]string, 0, len(r.Findings.Issues))
	for _, is := range r.Findings.Issues {
		ids = append(ids, is.ID)
	}
	assert.Contains(t, ids, "SPIKE_001")
}

// TestAnalyze_StageAttribution 20ms 帧中 7ms 已归因
func TestAnalyze_StageAttribution(t *testing.T) {
	stages := []frames.Field{frames.FieldPollEvents, frames.FieldBeginFrame, frames.FieldRenderComponents, frames.FieldEndFrame}
	s := frames.NewSeries(stages, nil)
	require.NoError(t, s.Append(frames.Sample{
		TimestampMs: 20, FrameTimeMs: 20, FPS: 50,
		Stages: []float64{1, 2, 3, 1},
	}))

	opts := DefaultOptions()
	opts.WarmupFrames = 0
	a, _ := quietAnalyzer(opts)
	r := a.Analyze(s)

	un, ok := r.Field(frames.FieldUnaccounted.String())
	require.True(t, ok)
	assert.Equal(t, 13.0, un.Mean)
	assert.Nil(t, un.StdDev, "std dev is undefined for a single value")

	require.NotNil(t, r.Attribution)
	assert.InDelta(t, 65.0, r.Attribution.UnaccountedSharePct, 1e-9)
	require.Len(t, r.Attribution.Stages, 4)
	assert.Equal(t, "render_components_ms", r.Attribution.Stages[2].Field)
	assert.InDelta(t, 15.0, r.Attribution.Stages[2].SharePct, 1e-9)

	// 单帧 20ms 超过 16.667ms 目标
	assert.Equal(t, 1, r.FrameDrops.Count)
	assert.Equal(t, 0.0, float64(s.Samples[0].UnaccountedMs), "caller's series is untouched")
	assert.False(t, s.Attributed)
}

// TestAnalyze_StageSkewClamps 阶段和大于帧耗时时未归因耗时取 0
func TestAnalyze_StageSkewClamps(t *testing.T) {
	s := frames.NewSeries([]frames.Field{frames.FieldRenderComponents, frames.FieldEndFrame}, nil)
	require.NoError(t, s.Append(frames.Sample{TimestampMs: 1, FrameTimeMs: 1.0, Stages: []float64{0.8, 0.6}}))
	require.NoError(t, s.Append(frames.Sample{TimestampMs: 3, FrameTimeMs: 2.0, Stages: []float64{0.5, 0.5}}))

	opts := DefaultOptions()
	opts.WarmupFrames = 0
	r := Analyze(s, opts)

	un, ok := r.Field(frames.FieldUnaccounted.String())
	require.True(t, ok)
	assert.Equal(t, 0.0, un.Min)
	assert.Equal(t, 1.0, un.Max)
}

// TestAnalyze_ShortSeriesWarns 帧数不足时使用全部数据并给出警告
func TestAnalyze_ShortSeriesWarns(t *testing.T) {
	a, hook := quietAnalyzer(DefaultOptions())
	r := a.Analyze(buildSeries(t, repeat(2.0, 12)))

	assert.Equal(t, 12, r.Series.Frames)
	assert.Equal(t, 0, r.Series.WarmupApplied)
	assert.Contains(t, r.Series.Warning, "insufficient data")
	require.NotEmpty(t, r.Warnings)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	ids := make([]string, 0)
	for _, is := range r.Findings.Issues {
		ids = append(ids, is.ID)
	}
	assert.Contains(t, ids, "DATA_001")
}

// TestAnalyze_EmptySeries 空序列输出 no_data 而不是报错
func TestAnalyze_EmptySeries(t *testing.T) {
	opts := DefaultOptions()
	opts.WarmupFrames = 0
	a, _ := quietAnalyzer(opts)
	r := a.Analyze(frames.NewSeries(nil, nil))

	assert.Equal(t, 0, r.Series.Frames)
	assert.Nil(t, r.Series.RuntimeSeconds)
	assert.Empty(t, r.Bands)
	assert.True(t, r.FrameTime().NoData())
	assert.Equal(t, 0.0, r.FrameDrops.Percent)
	assert.Equal(t, VerdictInsufficientData, r.Periodicity.Verdict)
	assert.Nil(t, r.Rolling)
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, r.Warnings[0], ErrEmptySeries.Error())

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"no_data":true`)

	assert.NotPanics(t, func() { Analyze(nil, DefaultOptions()) })
}

// TestAnalyze_Deterministic 相同输入得到相同报告
func TestAnalyze_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 500)
	for i := range values {
		values[i] = rng.ExpFloat64() * 2
	}
	s := buildSeries(t, values)

	a, _ := quietAnalyzer(DefaultOptions())
	first := a.Analyze(s)
	second := a.Analyze(s)
	if diff := cmp.Diff(first, second, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("reports differ (-first +second):\n%s", diff)
	}
}

// TestAnalyze_RollingWindow 滑动窗口极值
func TestAnalyze_RollingWindow(t *testing.T) {
	values := append(repeat(1.0, 100), repeat(10.0, 60)...)
	opts := DefaultOptions()
	opts.WarmupFrames = 0
	r := Analyze(buildSeries(t, values), opts)

	require.NotNil(t, r.Rolling)
	assert.Equal(t, 60, r.Rolling.Window)
	assert.Equal(t, 100, r.Rolling.Worst.Start)
	assert.InDelta(t, 10.0, r.Rolling.Worst.MeanMs, 1e-9)
	assert.Equal(t, 0, r.Rolling.Best.Start)
	assert.InDelta(t, 1.0, r.Rolling.Best.MeanMs, 1e-9)
}

// TestReportIdentify 测试报告标识
func TestReportIdentify(t *testing.T) {
	r := Analyze(buildSeries(t, repeat(1.0, 5)), Options{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CST", 8*3600))
	r.Identify("capture.csv", now)

	require.NotEmpty(t, r.ID)
	id := r.ID
	assert.Equal(t, "capture.csv", r.Source)
	require.NotNil(t, r.GeneratedAt)
	assert.Equal(t, time.UTC, r.GeneratedAt.Location())

	r.Identify("", now.Add(time.Minute))
	assert.Equal(t, id, r.ID, "existing id is kept")
	assert.Equal(t, "capture.csv", r.Source)
}

// TestAnalyze_PropertyBandsPartition 属性：分级成员数之和等于裁剪后帧数
func TestAnalyze_PropertyBandsPartition(t *testing.T) {
	property := func(raw []uint16, skip uint8) bool {
		values := make([]float64, len(raw))
		for i, v := range raw {
			values[i] = float64(v) / 1000
		}
		r := Analyze(buildSeries(t, values), Options{WarmupFrames: int(skip)})
		total := 0
		pct := 0.0
		for _, b := range r.Bands {
			total += b.Count
			pct += b.Percent
		}
		if r.Series.Frames == 0 {
			return total == 0
		}
		return total == r.Series.Frames && math.Abs(pct-100) < 1e-6
	}
	require.NoError(t, quick.Check(property, nil))
}

// TestAnalyze_PropertyUnaccountedNonNegative 属性：任意阶段组合下未归因耗时非负
func TestAnalyze_PropertyUnaccountedNonNegative(t *testing.T) {
	property := func(frame uint16, a, b, c uint16) bool {
		s := frames.NewSeries([]frames.Field{frames.FieldPollEvents, frames.FieldBeginFrame, "text_ms"}, nil)
		if err := s.Append(frames.Sample{
			FrameTimeMs: float64(frame) / 100,
			Stages:      []float64{float64(a) / 100, float64(b) / 100, float64(c) / 100},
		}); err != nil {
			return false
		}
		Attribute(s)
		return s.Samples[0].UnaccountedMs >= 0
	}
	require.NoError(t, quick.Check(property, nil))
}

func BenchmarkAnalyze(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	stages := []frames.Field{frames.FieldPollEvents, frames.FieldBeginFrame, frames.FieldRenderComponents, frames.FieldEndFrame}
	s := frames.NewSeries(stages, []frames.Field{"draw_calls"})
	ts := 0.0
	for i := 0; i < 20000; i++ {
		ft := 0.4 + rng.ExpFloat64()
		ts += ft
		_ = s.Append(frames.Sample{
			TimestampMs: ts,
			FrameTimeMs: ft,
			FPS:         1000 / ft,
			Stages:      []float64{ft * 0.1, ft * 0.1, ft * 0.5, ft * 0.1},
			Counters:    []float64{float64(rng.Intn(200))},
		})
	}

	log, _ := test.NewNullLogger()
	a := NewAnalyzer(DefaultOptions(), log)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Analyze(s)
	}
}
