package frames

import (
	"fmt"
	"strings"
)

// Field 采样字段名（与采集CSV列名一致）
type Field string

// 固定列
const (
	FieldTimestamp   Field = "timestamp_ms"
	FieldFrameTime   Field = "frame_time_ms"
	FieldFPS         Field = "fps"
	FieldUnaccounted Field = "unaccounted_ms"
)

// 已知阶段列，其余以 _ms 结尾的列视为组件阶段
const (
	FieldPollEvents       Field = "poll_events_ms"
	FieldBeginFrame       Field = "begin_frame_ms"
	FieldRenderComponents Field = "render_components_ms"
	FieldEndFrame         Field = "end_frame_ms"
	FieldProfilerUI       Field = "profiler_ui_ms"
)

// String 实现字符串接口
func (f Field) String() string {
	return string(f)
}

// IsReserved 是否为固定列或派生列
func (f Field) IsReserved() bool {
	switch f {
	case FieldTimestamp, FieldFrameTime, FieldFPS, FieldUnaccounted:
		return true
	default:
		return false
	}
}

// IsStage 是否为阶段耗时列
func (f Field) IsStage() bool {
	return !f.IsReserved() && strings.HasSuffix(string(f), "_ms")
}

// StageField 将阶段显示名转换为列名，例如 "Render Components" -> render_components_ms
func StageField(name string) Field {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	col := strings.TrimSuffix(b.String(), "_")
	if !strings.HasSuffix(col, "_ms") {
		col += "_ms"
	}
	return Field(col)
}

// CounterField 将计数器显示名转换为列名，例如 "Draw Calls" -> draw_calls
func CounterField(name string) Field {
	return Field(strings.TrimSuffix(string(StageField(name)), "_ms"))
}

// Sample 单帧采样记录
type Sample struct {
	TimestampMs float64 `json:"timestamp_ms"`
	FrameTimeMs float64 `json:"frame_time_ms"`
	FPS         float64 `json:"fps"`
	// Stages 与所属 Series.Stages 按下标对齐
	Stages []float64 `json:"stages,omitempty"`
	// Counters 与所属 Series.Counters 按下标对齐
	Counters []float64 `json:"counters,omitempty"`

	// 派生字段，分别由阶段归因和延迟分级写入一次
	UnaccountedMs float64 `json:"unaccounted_ms,omitempty"`
	Band          Band    `json:"band,omitempty"`
}

// Series 一次采集的完整有序采样序列
type Series struct {
	// Stages 本次采集实际存在的阶段列，解析时确定一次
	Stages []Field `json:"stages,omitempty"`
	// Counters 非耗时的计数列（如 draw_calls）
	Counters []Field  `json:"counters,omitempty"`
	Samples  []Sample `json:"samples"`

	// Attributed 为 true 时 UnaccountedMs 有效
	Attributed bool `json:"attributed"`
	// Classified 为 true 时 Band 有效
	Classified bool `json:"classified"`
}

// NewSeries 创建指定列布局的空序列
func NewSeries(stages, counters []Field) *Series {
	return &Series{
		Stages:   append([]Field(nil), stages...),
		Counters: append([]Field(nil), counters...),
		Samples:  make([]Sample, 0, 1024),
	}
}

// Len 采样数量
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// HasStages 是否采集了任何阶段耗时
func (s *Series) HasStages() bool {
	return len(s.Stages) > 0
}

// StageIndex 返回阶段列下标，不存在时返回 -1
func (s *Series) StageIndex(f Field) int {
	for i, st := range s.Stages {
		if st == f {
			return i
		}
	}
	return -1
}

// Append 追加一帧，阶段和计数按列布局对齐
func (s *Series) Append(sample Sample) error {
	if len(sample.Stages) != len(s.Stages) {
		return fmt.Errorf("frame %d: got %d stage values, series has %d stage fields",
			len(s.Samples), len(sample.Stages), len(s.Stages))
	}
	if len(sample.Counters) != len(s.Counters) {
		return fmt.Errorf("frame %d: got %d counter values, series has %d counters",
			len(s.Samples), len(sample.Counters), len(s.Counters))
	}
	s.Samples = append(s.Samples, sample)
	return nil
}

// Validate 校验序列不变量：时间戳非递减、耗时非负、列对齐
func (s *Series) Validate() error {
	for i, sm := range s.Samples {
		if sm.FrameTimeMs < 0 {
			return fmt.Errorf("frame %d: negative frame_time_ms %.3f", i, sm.FrameTimeMs)
		}
		if i > 0 && sm.TimestampMs < s.Samples[i-1].TimestampMs {
			return fmt.Errorf("frame %d: timestamp_ms %.3f is before previous %.3f",
				i, sm.TimestampMs, s.Samples[i-1].TimestampMs)
		}
		if len(sm.Stages) != len(s.Stages) || len(sm.Counters) != len(s.Counters) {
			return fmt.Errorf("frame %d: field layout does not match series", i)
		}
		for j, v := range sm.Stages {
			if v < 0 {
				return fmt.Errorf("frame %d: negative %s %.3f", i, s.Stages[j], v)
			}
		}
	}
	return nil
}

// Values 提取某个字段的数值序列；字段不存在时 ok=false
func (s *Series) Values(f Field) (values []float64, ok bool) {
	return s.valuesOf(f, s.Samples)
}

// ValuesAt 提取指定下标子集的字段值
func (s *Series) ValuesAt(f Field, indexes []int) ([]float64, bool) {
	get, ok := s.accessor(f)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(indexes))
	for i, idx := range indexes {
		out[i] = get(&s.Samples[idx])
	}
	return out, true
}

func (s *Series) valuesOf(f Field, samples []Sample) ([]float64, bool) {
	get, ok := s.accessor(f)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = get(&samples[i])
	}
	return out, true
}

func (s *Series) accessor(f Field) (func(*Sample) float64, bool) {
	switch f {
	case FieldTimestamp:
		return func(sm *Sample) float64 { return sm.TimestampMs }, true
	case FieldFrameTime:
		return func(sm *Sample) float64 { return sm.FrameTimeMs }, true
	case FieldFPS:
		return func(sm *Sample) float64 { return sm.FPS }, true
	case FieldUnaccounted:
		if !s.Attributed {
			return nil, false
		}
		return func(sm *Sample) float64 { return sm.UnaccountedMs }, true
	}
	if i := s.StageIndex(f); i >= 0 {
		return func(sm *Sample) float64 { return sm.Stages[i] }, true
	}
	for i, c := range s.Counters {
		if c == f {
			return func(sm *Sample) float64 { return sm.Counters[i] }, true
		}
	}
	return nil, false
}

// Clone 深拷贝序列
func (s *Series) Clone() *Series {
	out := &Series{
		Stages:     append([]Field(nil), s.Stages...),
		Counters:   append([]Field(nil), s.Counters...),
		Samples:    make([]Sample, len(s.Samples)),
		Attributed: s.Attributed,
		Classified: s.Classified,
	}
	for i, sm := range s.Samples {
		sm.Stages = append([]float64(nil), sm.Stages...)
		sm.Counters = append([]float64(nil), sm.Counters...)
		out.Samples[i] = sm
	}
	return out
}
