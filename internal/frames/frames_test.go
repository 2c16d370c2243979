package frames

import (
	"errors"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantSeries(n int, frameTime float64) *Series {
	s := NewSeries(nil, nil)
	for i := 0; i < n; i++ {
		_ = s.Append(Sample{
			TimestampMs: float64(i) * frameTime,
			FrameTimeMs: frameTime,
			FPS:         1000 / frameTime,
		})
	}
	return s
}

// TestStageField 测试阶段名到列名的转换
func TestStageField(t *testing.T) {
	cases := map[string]Field{
		"Render Components":  FieldRenderComponents,
		"Poll Events":        FieldPollEvents,
		"Profiler UI Update": "profiler_ui_update_ms",
		"end_frame_ms":       FieldEndFrame,
		"  Text  ":           "text_ms",
	}
	for name, want := range cases {
		assert.Equal(t, want, StageField(name), name)
	}
}

// TestCounterField 计数器列名不带 _ms
func TestCounterField(t *testing.T) {
	assert.Equal(t, Field("draw_calls"), CounterField("Draw Calls"))
	assert.False(t, CounterField("Draw Calls").IsStage())
}

// TestFieldKinds 测试列分类
func TestFieldKinds(t *testing.T) {
	assert.True(t, FieldPollEvents.IsStage())
	assert.True(t, Field("terminal_ms").IsStage())
	assert.False(t, FieldFrameTime.IsStage())
	assert.False(t, FieldUnaccounted.IsStage())
	assert.False(t, Field("draw_calls").IsStage())
}

// TestSeriesAppendLayout 测试列对齐校验
func TestSeriesAppendLayout(t *testing.T) {
	s := NewSeries([]Field{FieldPollEvents}, nil)
	require.NoError(t, s.Append(Sample{FrameTimeMs: 1, Stages: []float64{0.2}}))
	assert.Error(t, s.Append(Sample{FrameTimeMs: 1}))
	assert.Error(t, s.Append(Sample{FrameTimeMs: 1, Stages: []float64{0.2}, Counters: []float64{3}}))
	assert.Equal(t, 1, s.Len())
}

// TestSeriesValidate 测试不变量校验
func TestSeriesValidate(t *testing.T) {
	s := constantSeries(5, 1.0)
	require.NoError(t, s.Validate())

	s.Samples[3].TimestampMs = 0.5
	assert.Error(t, s.Validate())

	s = constantSeries(5, 1.0)
	s.Samples[2].FrameTimeMs = -1
	assert.Error(t, s.Validate())
}

// TestSeriesValues 测试字段提取，缺失字段返回 ok=false
func TestSeriesValues(t *testing.T) {
	s := NewSeries([]Field{FieldBeginFrame}, []Field{"draw_calls"})
	require.NoError(t, s.Append(Sample{TimestampMs: 0, FrameTimeMs: 2, Stages: []float64{0.5}, Counters: []float64{12}}))
	require.NoError(t, s.Append(Sample{TimestampMs: 2, FrameTimeMs: 3, Stages: []float64{0.7}, Counters: []float64{14}}))

	v, ok := s.Values(FieldBeginFrame)
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.7}, v)

	v, ok = s.Values("draw_calls")
	require.True(t, ok)
	assert.Equal(t, []float64{12, 14}, v)

	_, ok = s.Values(FieldPollEvents)
	assert.False(t, ok)

	_, ok = s.Values(FieldUnaccounted)
	assert.False(t, ok, "unaccounted is absent until attribution runs")

	v, ok = s.ValuesAt(FieldFrameTime, []int{1})
	require.True(t, ok)
	assert.Equal(t, []float64{3}, v)
}

// TestTrim 测试预热裁剪
func TestTrim(t *testing.T) {
	t.Run("enough samples", func(t *testing.T) {
		s := constantSeries(40, 1.0)
		res := Trim(s, 30)
		require.NoError(t, res.Warning)
		assert.Equal(t, 10, res.Remaining())
		assert.Equal(t, 30, res.Applied)
		assert.Equal(t, 30.0, res.Series.Samples[0].TimestampMs, "first kept frame is re-indexed to 0")
		assert.Equal(t, 40, s.Len(), "input is not mutated")
	})

	t.Run("too few samples", func(t *testing.T) {
		s := constantSeries(20, 1.0)
		res := Trim(s, 30)
		require.Error(t, res.Warning)
		assert.True(t, errors.Is(res.Warning, ErrInsufficientData))
		assert.Equal(t, 20, res.Remaining())
		assert.Equal(t, 0, res.Applied)
	})

	t.Run("exactly skip samples keeps all", func(t *testing.T) {
		res := Trim(constantSeries(30, 1.0), 30)
		assert.ErrorIs(t, res.Warning, ErrInsufficientData)
		assert.Equal(t, 30, res.Remaining())
	})

	t.Run("zero skip", func(t *testing.T) {
		res := Trim(constantSeries(3, 1.0), 0)
		assert.NoError(t, res.Warning)
		assert.Equal(t, 3, res.Remaining())
	})

	t.Run("nil series", func(t *testing.T) {
		res := Trim(nil, 30)
		assert.ErrorIs(t, res.Warning, ErrInsufficientData)
		assert.Equal(t, 0, res.Remaining())
	})
}

// TestTrim_PropertyLength 属性：N > K 时剩余 N-K，否则保持 N 并给出警告
func TestTrim_PropertyLength(t *testing.T) {
	property := func(n, k uint8) bool {
		res := Trim(constantSeries(int(n), 1.0), int(k))
		if int(n) > int(k) {
			return res.Remaining() == int(n)-int(k) && res.Warning == nil
		}
		if k == 0 {
			return res.Remaining() == int(n) && res.Warning == nil
		}
		return res.Remaining() == int(n) && errors.Is(res.Warning, ErrInsufficientData)
	}
	require.NoError(t, quick.Check(property, nil))
}

// TestBandText 测试分级序列化
func TestBandText(t *testing.T) {
	for _, b := range []Band{BandUltraFast, BandFast, BandMedium, BandSpike, BandUnclassified} {
		text, err := b.MarshalText()
		require.NoError(t, err)
		var got Band
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, b, got)
	}
	var b Band
	assert.Error(t, b.UnmarshalText([]byte("bogus")))
	assert.Equal(t, "Ultra-fast", BandUltraFast.Label())
}
