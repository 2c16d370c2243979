package analysis

import (
	"math"

	"FrameTimeAnalyzer/internal/frames"
)

// bandBound 分级表项：frame_time <= UpperMs 即落入该级
type bandBound struct {
	Band    frames.Band
	UpperMs float64
}

// bandTable 固定的延迟分级边界（右闭区间），按上界升序
var bandTable = []bandBound{
	{frames.BandUltraFast, 0.5},
	{frames.BandFast, 1.5},
	{frames.BandMedium, 3.0},
	{frames.BandSpike, math.Inf(1)},
}

// BandBounds 返回分级的 (下界, 上界]，Spike 上界为 +Inf
func BandBounds(b frames.Band) (lower, upper float64, ok bool) {
	lower = 0
	for _, bb := range bandTable {
		if bb.Band == b {
			return lower, bb.UpperMs, true
		}
		lower = bb.UpperMs
	}
	return 0, 0, false
}

// ClassifyFrame 查表得到单帧分级
func ClassifyFrame(frameTimeMs float64) frames.Band {
	for _, bb := range bandTable {
		if frameTimeMs <= bb.UpperMs {
			return bb.Band
		}
	}
	// NaN 无法比较，归入 Spike
	return frames.BandSpike
}

// Classify 为每帧写入 Band，返回按分级表顺序排列的成员下标
func Classify(s *frames.Series) [][]int {
	members := make([][]int, len(bandTable))
	if s == nil {
		return members
	}
	for i := range s.Samples {
		sm := &s.Samples[i]
		if !s.Classified {
			sm.Band = ClassifyFrame(sm.FrameTimeMs)
		}
		members[bandSlot(sm.Band)] = append(members[bandSlot(sm.Band)], i)
	}
	s.Classified = true
	return members
}

func bandSlot(b frames.Band) int {
	for i, bb := range bandTable {
		if bb.Band == b {
			return i
		}
	}
	return len(bandTable) - 1
}

// BandReport 单个非空分级的统计
type BandReport struct {
	Band    frames.Band `json:"band"`
	Label   string      `json:"label"`
	LowerMs float64     `json:"lower_ms"`
	// UpperMs Spike 级没有上界
	UpperMs *float64       `json:"upper_ms,omitempty"`
	Count   int            `json:"count"`
	Percent float64        `json:"percent"`
	Fields  []FieldSummary `json:"fields"`
}

// Field 查找分级内某个字段的统计
func (b BandReport) Field(name string) (Summary, bool) {
	return lookupField(b.Fields, name)
}

// bandReports 只输出非空分级，字段为帧耗时、各阶段和未归因耗时
func bandReports(s *frames.Series, members [][]int) []BandReport {
	total := s.Len()
	out := make([]BandReport, 0, len(bandTable))
	for slot, idx := range members {
		if len(idx) == 0 {
			continue
		}
		bb := bandTable[slot]
		lower, upper, _ := BandBounds(bb.Band)
		br := BandReport{
			Band:    bb.Band,
			Label:   bb.Band.Label(),
			LowerMs: lower,
			Count:   len(idx),
			Percent: percentOf(len(idx), total),
		}
		if !math.IsInf(upper, 1) {
			br.UpperMs = &upper
		}
		br.Fields = summarizeFields(s, bandFields(s), idx)
		out = append(out, br)
	}
	return out
}

// bandFields 分级统计涉及的字段
func bandFields(s *frames.Series) []frames.Field {
	fields := []frames.Field{frames.FieldFrameTime}
	fields = append(fields, s.Stages...)
	if s.Attributed {
		fields = append(fields, frames.FieldUnaccounted)
	}
	return fields
}

// overallFields 总体统计涉及的字段，额外包含 fps 和计数列
func overallFields(s *frames.Series) []frames.Field {
	fields := []frames.Field{frames.FieldFrameTime, frames.FieldFPS}
	fields = append(fields, s.Stages...)
	if s.Attributed {
		fields = append(fields, frames.FieldUnaccounted)
	}
	return append(fields, s.Counters...)
}

// summarizeFields 对下标子集（nil 表示全部）逐字段统计；不存在的字段直接跳过
func summarizeFields(s *frames.Series, fields []frames.Field, idx []int) []FieldSummary {
	out := make([]FieldSummary, 0, len(fields))
	for _, f := range fields {
		var (
			values []float64
			ok     bool
		)
		if idx == nil {
			values, ok = s.Values(f)
		} else {
			values, ok = s.ValuesAt(f, idx)
		}
		if !ok {
			continue
		}
		sum := Summarize(values)
		if f == frames.FieldFrameTime {
			sum = SummarizeFrameTime(values)
		}
		out = append(out, FieldSummary{Field: f.String(), Summary: sum})
	}
	return out
}

func lookupField(fields []FieldSummary, name string) (Summary, bool) {
	for _, fs := range fields {
		if fs.Field == name {
			return fs.Summary, true
		}
	}
	return Summary{}, false
}

func percentOf(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}
