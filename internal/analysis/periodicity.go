package analysis

import (
	"errors"
	"fmt"

	"github.com/aclements/go-moremath/stats"

	"FrameTimeAnalyzer/internal/frames"
)

// ErrInsufficientSpikeSamples Spike 帧少于 3 个，无法估计周期
var ErrInsufficientSpikeSamples = errors.New("insufficient spike samples for periodicity")

// Verdict 周期性判定
type Verdict string

const (
	VerdictInsufficientData Verdict = "insufficient_data"
	VerdictDeterministic    Verdict = "deterministic"
	VerdictStrong           Verdict = "strong"
	VerdictIrregular        Verdict = "irregular"
)

const (
	// MinSpikeFrames 至少需要两个间隔
	MinSpikeFrames = 3
	// DeterministicMaxStd 间隔标准差低于该值判定为确定性
	DeterministicMaxStd = 1.0
	// StrongMaxRelativeStd 标准差低于 均值*该比例 判定为强周期
	StrongMaxRelativeStd = 0.2
)

// Label 展示名
func (v Verdict) Label() string {
	switch v {
	case VerdictDeterministic:
		return "Deterministic"
	case VerdictStrong:
		return "Strong periodicity"
	case VerdictIrregular:
		return "Irregular / noisy"
	default:
		return "Not enough data"
	}
}

// Periodic 是否存在明显周期
func (v Verdict) Periodic() bool {
	return v == VerdictDeterministic || v == VerdictStrong
}

// GapStats 帧序号间隔统计
type GapStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Mode   int     `json:"mode"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// Periodicity 周期性分析结果；数据不足时只有 Verdict 和 SpikeFrames
type Periodicity struct {
	Verdict       Verdict   `json:"verdict"`
	SpikeFrames   int       `json:"spike_frames"`
	IndexGaps     *GapStats `json:"index_gaps,omitempty"`
	MeanTimeGapMs *float64  `json:"mean_time_gap_ms,omitempty"`
}

// ClassifyPeriodicity 先做绝对阈值判断，再做相对阈值判断，顺序不可交换
func ClassifyPeriodicity(mean, std float64) Verdict {
	switch {
	case std < DeterministicMaxStd:
		return VerdictDeterministic
	case std < StrongMaxRelativeStd*mean:
		return VerdictStrong
	default:
		return VerdictIrregular
	}
}

// IndexGaps 相邻 Spike 帧的下标差
func IndexGaps(spikes []int) []int {
	if len(spikes) < 2 {
		return nil
	}
	gaps := make([]int, len(spikes)-1)
	for i := 1; i < len(spikes); i++ {
		gaps[i-1] = spikes[i] - spikes[i-1]
	}
	return gaps
}

// AnalyzePeriodicity 基于 Spike 帧（按原序列顺序的下标）分析复发规律
func AnalyzePeriodicity(s *frames.Series, spikes []int) (Periodicity, error) {
	res := Periodicity{
		Verdict:     VerdictInsufficientData,
		SpikeFrames: len(spikes),
	}
	if len(spikes) < MinSpikeFrames {
		return res, fmt.Errorf("%w: %d spike frames, need %d",
			ErrInsufficientSpikeSamples, len(spikes), MinSpikeFrames)
	}

	gaps := IndexGaps(spikes)
	fg := make([]float64, len(gaps))
	for i, g := range gaps {
		fg[i] = float64(g)
	}
	mode, _ := Mode(gaps)
	lo, hi := stats.Bounds(fg)
	gs := &GapStats{
		Count:  len(gaps),
		Mean:   stats.Mean(fg),
		StdDev: stats.StdDev(fg),
		Mode:   mode,
		Min:    int(lo),
		Max:    int(hi),
	}
	res.IndexGaps = gs
	res.Verdict = ClassifyPeriodicity(gs.Mean, gs.StdDev)

	timeGaps := 0.0
	for i := 1; i < len(spikes); i++ {
		timeGaps += s.Samples[spikes[i]].TimestampMs - s.Samples[spikes[i-1]].TimestampMs
	}
	meanTime := timeGaps / float64(len(gaps))
	res.MeanTimeGapMs = &meanTime
	return res, nil
}
