package analysis

import (
	"FrameTimeAnalyzer/internal/frames"
)

// Unaccounted 单帧未归因耗时 = max(0, frame_time - sum(stages))
func Unaccounted(frameTimeMs float64, stages []float64) float64 {
	known := 0.0
	for _, v := range stages {
		known += v
	}
	if residual := frameTimeMs - known; residual > 0 {
		return residual
	}
	return 0
}

// Attribute 为序列中每一帧写入 UnaccountedMs。
// 参与求和的阶段列由 Series.Stages 决定，对所有帧统一；没有阶段列时不做归因。
func Attribute(s *frames.Series) bool {
	if s == nil || !s.HasStages() {
		return false
	}
	if s.Attributed {
		return true
	}
	for i := range s.Samples {
		sm := &s.Samples[i]
		sm.UnaccountedMs = Unaccounted(sm.FrameTimeMs, sm.Stages)
	}
	s.Attributed = true
	return true
}

// StageShare 单个阶段在平均帧耗时中的占比
type StageShare struct {
	Field    string  `json:"field"`
	MeanMs   float64 `json:"mean_ms"`
	SharePct float64 `json:"share_pct"`
}

// Attribution 阶段耗时归因汇总，仅在采集包含阶段列时出现
type Attribution struct {
	FrameTimeMeanMs     float64      `json:"frame_time_mean_ms"`
	Stages              []StageShare `json:"stages"`
	UnaccountedMeanMs   float64      `json:"unaccounted_mean_ms"`
	UnaccountedSharePct float64      `json:"unaccounted_share_pct"`
}

// summarizeAttribution 根据总体统计计算各阶段占比
func summarizeAttribution(s *frames.Series, overall []FieldSummary) *Attribution {
	if !s.Attributed {
		return nil
	}
	byField := make(map[string]Summary, len(overall))
	for _, fs := range overall {
		byField[fs.Field] = fs.Summary
	}

	frameMean := byField[frames.FieldFrameTime.String()].Mean
	share := func(mean float64) float64 {
		if frameMean <= 0 {
			return 0
		}
		return mean / frameMean * 100
	}

	att := &Attribution{
		FrameTimeMeanMs: frameMean,
		Stages:          make([]StageShare, 0, len(s.Stages)),
	}
	for _, f := range s.Stages {
		mean := byField[f.String()].Mean
		att.Stages = append(att.Stages, StageShare{
			Field:    f.String(),
			MeanMs:   mean,
			SharePct: share(mean),
		})
	}
	att.UnaccountedMeanMs = byField[frames.FieldUnaccounted.String()].Mean
	att.UnaccountedSharePct = share(att.UnaccountedMeanMs)
	return att
}
