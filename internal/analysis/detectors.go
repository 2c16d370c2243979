package analysis

import (
	"FrameTimeAnalyzer/internal/frames"
)

const (
	// FrameDropTargetMs 60Hz 目标帧耗时
	FrameDropTargetMs = 1000.0 / 60.0
	// StutterMultiplier 卡顿阈值 = 平均帧耗时 * 倍数
	StutterMultiplier = 2.0
)

// ThresholdCount 阈值检测结果
type ThresholdCount struct {
	ThresholdMs float64 `json:"threshold_ms"`
	Count       int     `json:"count"`
	Percent     float64 `json:"percent"`
}

// countAbove 统计 frame_time 严格大于阈值的帧
func countAbove(s *frames.Series, thresholdMs float64) ThresholdCount {
	res := ThresholdCount{ThresholdMs: thresholdMs}
	if s == nil {
		return res
	}
	for _, sm := range s.Samples {
		if sm.FrameTimeMs > thresholdMs {
			res.Count++
		}
	}
	res.Percent = percentOf(res.Count, s.Len())
	return res
}

// DetectFrameDrops 掉帧检测：超过 60Hz 目标耗时
func DetectFrameDrops(s *frames.Series) ThresholdCount {
	return countAbove(s, FrameDropTargetMs)
}

// DetectStutters 卡顿检测：超过平均帧耗时的两倍。
// meanMs 由调用方对整段裁剪后序列计算一次；与掉帧检测可能命中同一帧，两者不去重。
func DetectStutters(s *frames.Series, meanMs float64) ThresholdCount {
	return countAbove(s, meanMs*StutterMultiplier)
}
