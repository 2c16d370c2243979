package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"FrameTimeAnalyzer/internal/frames"
)

// ErrEmptySeries 裁剪后没有任何采样
var ErrEmptySeries = errors.New("empty series")

// Options 分析选项
type Options struct {
	// WarmupFrames 跳过的预热帧数，负数按 0 处理
	WarmupFrames int `json:"warmup_frames" mapstructure:"warmup_frames"`
	// RollingWindow 滑动平均窗口，<=0 时不计算
	RollingWindow int        `json:"rolling_window" mapstructure:"rolling_window"`
	Thresholds    Thresholds `json:"thresholds" mapstructure:"thresholds"`
}

// DefaultOptions 默认分析选项
func DefaultOptions() Options {
	return Options{
		WarmupFrames:  frames.DefaultWarmupFrames,
		RollingWindow: DefaultRollingWindow,
		Thresholds:    DefaultThresholds(),
	}
}

// SeriesInfo 裁剪后序列的元数据
type SeriesInfo struct {
	TotalSamples    int `json:"total_samples"`
	WarmupRequested int `json:"warmup_requested"`
	WarmupApplied   int `json:"warmup_applied"`
	Frames          int `json:"frames"`
	// RuntimeSeconds 最后一帧时间戳 / 1000，空序列时不存在
	RuntimeSeconds *float64 `json:"runtime_seconds,omitempty"`
	// SpanSeconds 裁剪后首尾时间戳之差
	SpanSeconds *float64 `json:"span_seconds,omitempty"`
	Stages      []string `json:"stages,omitempty"`
	Counters    []string `json:"counters,omitempty"`
	Warning     string   `json:"warning,omitempty"`
}

// Report 一次采集的完整分析报告
type Report struct {
	ID          string     `json:"id,omitempty"`
	Source      string     `json:"source,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`

	Series      SeriesInfo     `json:"series"`
	Overall     []FieldSummary `json:"overall"`
	Attribution *Attribution   `json:"attribution,omitempty"`
	Bands       []BandReport   `json:"bands"`
	FrameDrops  ThresholdCount `json:"frame_drops"`
	Stutters    ThresholdCount `json:"stutters"`
	Periodicity Periodicity    `json:"periodicity"`
	Rolling     *Rolling       `json:"rolling,omitempty"`
	Findings    Findings       `json:"findings"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Field 查找总体统计中的某个字段
func (r *Report) Field(name string) (Summary, bool) {
	return lookupField(r.Overall, name)
}

// FrameTime 帧耗时总体统计
func (r *Report) FrameTime() Summary {
	s, _ := r.Field(frames.FieldFrameTime.String())
	return s
}

// Band 查找某个分级，空分级不存在
func (r *Report) Band(b frames.Band) (BandReport, bool) {
	for _, br := range r.Bands {
		if br.Band == b {
			return br, true
		}
	}
	return BandReport{}, false
}

// Identify 为报告分配 ID 并记录来源与生成时间；已有 ID 时保留
func (r *Report) Identify(source string, now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if source != "" {
		r.Source = source
	}
	t := now.UTC()
	r.GeneratedAt = &t
}

// Analyzer 帧耗时分析器，无内部可变状态，可并发使用
type Analyzer struct {
	opts Options
	log  logrus.FieldLogger
}

// NewAnalyzer 创建分析器，log 为 nil 时使用标准 logger
func NewAnalyzer(opts Options, log logrus.FieldLogger) *Analyzer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.WarmupFrames < 0 {
		opts.WarmupFrames = 0
	}
	return &Analyzer{
		opts: opts,
		log:  log.WithField("module", "analysis"),
	}
}

// Options 返回分析器使用的选项
func (a *Analyzer) Options() Options {
	return a.opts
}

// Analyze 使用默认 logger 的便捷入口
func Analyze(s *frames.Series, opts Options) *Report {
	return NewAnalyzer(opts, nil).Analyze(s)
}

// Analyze 执行完整分析流程；输入序列不会被修改。
// 所有异常情况都以警告形式写入报告，不会中断报告生成。
func (a *Analyzer) Analyze(s *frames.Series) *Report {
	trim := frames.Trim(s, a.opts.WarmupFrames)
	series := trim.Series

	r := &Report{
		Series: SeriesInfo{
			TotalSamples:    trim.Original,
			WarmupRequested: trim.Requested,
			WarmupApplied:   trim.Applied,
			Frames:          series.Len(),
			Stages:          fieldNames(series.Stages),
			Counters:        fieldNames(series.Counters),
		},
	}
	if trim.Warning != nil {
		r.Series.Warning = trim.Warning.Error()
		a.warn(r, trim.Warning)
	}

	if n := series.Len(); n > 0 {
		last := series.Samples[n-1].TimestampMs
		runtime := last / 1000
		span := (last - series.Samples[0].TimestampMs) / 1000
		r.Series.RuntimeSeconds = &runtime
		r.Series.SpanSeconds = &span
	} else {
		a.warn(r, fmt.Errorf("%w: statistics report no data", ErrEmptySeries))
	}

	// 归因和分级各只计算一次，后续各节复用
	Attribute(series)
	members := Classify(series)

	r.Overall = summarizeFields(series, overallFields(series), nil)
	r.Attribution = summarizeAttribution(series, r.Overall)
	r.Bands = bandReports(series, members)

	r.FrameDrops = DetectFrameDrops(series)
	r.Stutters = DetectStutters(series, r.FrameTime().Mean)

	periodicity, err := AnalyzePeriodicity(series, members[bandSlot(frames.BandSpike)])
	r.Periodicity = periodicity
	if err != nil {
		a.log.WithField("spike_frames", periodicity.SpikeFrames).Info("周期性分析数据不足")
	}

	if frameTimes, ok := series.Values(frames.FieldFrameTime); ok {
		r.Rolling = RollingExtremes(frameTimes, a.opts.RollingWindow)
	}

	r.Findings = buildFindings(r, a.opts.Thresholds)

	a.log.WithFields(logrus.Fields{
		"frames":      r.Series.Frames,
		"frame_drops": r.FrameDrops.Count,
		"stutters":    r.Stutters.Count,
		"periodicity": r.Periodicity.Verdict,
		"grade":       r.Findings.Grade,
	}).Debug("帧耗时分析完成")
	return r
}

func (a *Analyzer) warn(r *Report, err error) {
	r.Warnings = append(r.Warnings, err.Error())
	a.log.WithError(err).Warn("分析警告")
}

func fieldNames(fields []frames.Field) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.String()
	}
	return out
}
