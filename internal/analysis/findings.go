package analysis

import (
	"fmt"
	"math"
)

// Thresholds 问题判定阈值
type Thresholds struct {
	MaxDropRatePct         float64 `json:"max_drop_rate_pct" mapstructure:"max_drop_rate_pct"`
	MaxStutterRatePct      float64 `json:"max_stutter_rate_pct" mapstructure:"max_stutter_rate_pct"`
	MaxUnaccountedSharePct float64 `json:"max_unaccounted_share_pct" mapstructure:"max_unaccounted_share_pct"`
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDropRatePct:         1,
		MaxStutterRatePct:      1,
		MaxUnaccountedSharePct: 25,
	}
}

// Issue 发现的问题
type Issue struct {
	ID          string   `json:"id"`
	Severity    string   `json:"severity"` // "critical", "high", "medium", "low"
	Category    string   `json:"category"` // "performance", "attribution", "data"
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Suggestion 优化建议
type Suggestion struct {
	ID          string   `json:"id"`
	Priority    string   `json:"priority"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// Findings 评分、问题和建议
type Findings struct {
	Score       float64      `json:"score"`
	Grade       string       `json:"grade"`
	Issues      []Issue      `json:"issues,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// buildFindings 基于报告各节识别问题并生成建议
func buildFindings(r *Report, th Thresholds) Findings {
	var f Findings
	f.Issues = identifyIssues(r, th)
	f.Suggestions = generateSuggestions(f.Issues)
	f.Score = calculateScore(r, th)
	f.Grade = assignGrade(f.Score)
	return f
}

// identifyIssues 识别问题
func identifyIssues(r *Report, th Thresholds) []Issue {
	var issues []Issue

	// 掉帧
	if r.Series.Frames > 0 && r.FrameDrops.Percent > th.MaxDropRatePct {
		issues = append(issues, Issue{
			ID:       "PERF_001",
			Severity: severityFor(r.FrameDrops.Percent, th.MaxDropRatePct),
			Category: "performance",
			Title:    "掉帧率过高",
			Description: fmt.Sprintf("%.2f%% 的帧超过 60Hz 目标 %.3fms，阈值 %.2f%%",
				r.FrameDrops.Percent, r.FrameDrops.ThresholdMs, th.MaxDropRatePct),
			Evidence: []string{fmt.Sprintf("frame drops: %d / %d", r.FrameDrops.Count, r.Series.Frames)},
		})
	}

	// 卡顿
	if r.Series.Frames > 0 && r.Stutters.Percent > th.MaxStutterRatePct {
		issues = append(issues, Issue{
			ID:       "PERF_002",
			Severity: severityFor(r.Stutters.Percent, th.MaxStutterRatePct),
			Category: "performance",
			Title:    "卡顿帧比例过高",
			Description: fmt.Sprintf("%.2f%% 的帧超过平均帧耗时两倍 (%.3fms)",
				r.Stutters.Percent, r.Stutters.ThresholdMs),
			Evidence: []string{fmt.Sprintf("stutters: %d / %d", r.Stutters.Count, r.Series.Frames)},
		})
	}

	// 周期性尖峰
	if r.Periodicity.Verdict.Periodic() && r.Periodicity.IndexGaps != nil {
		gaps := r.Periodicity.IndexGaps
		ev := []string{fmt.Sprintf("index gap mean %.2f, std %.2f, mode %d", gaps.Mean, gaps.StdDev, gaps.Mode)}
		if r.Periodicity.MeanTimeGapMs != nil {
			ev = append(ev, fmt.Sprintf("mean time gap %.3fms", *r.Periodicity.MeanTimeGapMs))
		}
		issues = append(issues, Issue{
			ID:       "SPIKE_001",
			Severity: "medium",
			Category: "performance",
			Title:    "周期性尖峰帧",
			Description: fmt.Sprintf("%d 个 Spike 帧大约每 %d 帧出现一次 (%s)",
				r.Periodicity.SpikeFrames, gaps.Mode, r.Periodicity.Verdict.Label()),
			Evidence: ev,
		})
	}

	// 未归因耗时
	if att := r.Attribution; att != nil && att.UnaccountedSharePct > th.MaxUnaccountedSharePct {
		issues = append(issues, Issue{
			ID:       "ATTR_001",
			Severity: "low",
			Category: "attribution",
			Title:    "未归因耗时占比偏高",
			Description: fmt.Sprintf("平均 %.3fms (%.1f%%) 的帧耗时不属于任何已记录阶段",
				att.UnaccountedMeanMs, att.UnaccountedSharePct),
		})
	}

	// 预热未裁剪
	if r.Series.WarmupRequested > 0 && r.Series.WarmupApplied == 0 {
		issues = append(issues, Issue{
			ID:       "DATA_001",
			Severity: "low",
			Category: "data",
			Title:    "采样不足，未跳过预热帧",
			Description: fmt.Sprintf("共 %d 帧，不超过预热帧数 %d，统计包含启动阶段",
				r.Series.TotalSamples, r.Series.WarmupRequested),
		})
	}

	return issues
}

// generateSuggestions 生成优化建议
func generateSuggestions(issues []Issue) []Suggestion {
	var suggestions []Suggestion
	for _, issue := range issues {
		switch issue.ID {
		case "PERF_001", "PERF_002":
			suggestions = append(suggestions, Suggestion{
				ID:          "SUGG_" + issue.ID,
				Priority:    priorityFor(issue.Severity),
				Category:    issue.Category,
				Title:       "定位长帧",
				Description: "按分级查看 Spike 帧的阶段耗时，找出占比最大的阶段",
				Actions: []string{
					"对比 Spike 与 Fast 分级中各阶段的均值",
					"检查渲染组件是否在个别帧做了同步加载",
				},
			})
		case "SPIKE_001":
			suggestions = append(suggestions, Suggestion{
				ID:          "SUGG_SPIKE_001",
				Priority:    "medium",
				Category:    issue.Category,
				Title:       "排查定时任务",
				Description: "尖峰按固定帧间隔复现，通常来自定时触发的工作",
				Actions: []string{
					"检查按帧计数触发的逻辑（GC、资源回收、日志刷新）",
					"将周期任务拆分到多帧执行",
				},
			})
		case "ATTR_001":
			suggestions = append(suggestions, Suggestion{
				ID:          "SUGG_ATTR_001",
				Priority:    "low",
				Category:    issue.Category,
				Title:       "补充阶段计时",
				Description: "为帧循环中未覆盖的部分增加计时点",
			})
		}
	}
	return suggestions
}

// calculateScore 计算总分 (0-100)
func calculateScore(r *Report, th Thresholds) float64 {
	if r.Series.Frames == 0 {
		return 0
	}
	score := 100.0

	// 掉帧率
	switch drop := r.FrameDrops.Percent; {
	case drop > th.MaxDropRatePct*5:
		score -= 30
	case drop > th.MaxDropRatePct:
		score -= 15
	case drop > 0:
		score -= 5
	}

	// 卡顿率
	switch st := r.Stutters.Percent; {
	case st > th.MaxStutterRatePct*5:
		score -= 25
	case st > th.MaxStutterRatePct:
		score -= 10
	case st > 0:
		score -= 3
	}

	// 周期性尖峰
	if r.Periodicity.Verdict.Periodic() {
		score -= 10
	}

	// 预热
	if r.Series.WarmupRequested > 0 && r.Series.WarmupApplied == 0 {
		score -= 5
	}

	return math.Max(0, math.Min(100, score))
}

// assignGrade 分配等级
func assignGrade(score float64) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "B+"
	case score >= 80:
		return "B"
	case score >= 75:
		return "C+"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func severityFor(value, limit float64) string {
	switch {
	case value > limit*10:
		return "critical"
	case value > limit*5:
		return "high"
	default:
		return "medium"
	}
}

func priorityFor(severity string) string {
	if severity == "critical" || severity == "high" {
		return "high"
	}
	return "medium"
}
