package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"FrameTimeAnalyzer/internal/analysis"
)

const namespace = "frametime"

// Exporter 将最近一次分析报告导出为 Prometheus 指标
type Exporter struct {
	registry *prometheus.Registry
	// mu 保证一次 Observe 的 Reset 与写入不与另一次交错
	mu sync.Mutex

	frameTime    *prometheus.GaugeVec
	frames       prometheus.Gauge
	bandFrames   *prometheus.GaugeVec
	bandPercent  *prometheus.GaugeVec
	frameDrops   prometheus.Gauge
	stutters     prometheus.Gauge
	spikeGap     *prometheus.GaugeVec
	periodicity  *prometheus.GaugeVec
	stageMean    *prometheus.GaugeVec
	score        prometheus.Gauge
	reportsTotal prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

// NewExporter 创建导出器；withRuntime 为 true 时额外注册 Go 运行时和进程指标
func NewExporter(withRuntime bool) *Exporter {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Exporter{
		registry: reg,
		frameTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_time_ms",
			Help:      "Frame time statistics of the last analyzed capture.",
		}, []string{"stat"}),
		frames: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames",
			Help:      "Frames in the last analyzed capture after warm-up trimming.",
		}),
		bandFrames: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "band_frames",
			Help:      "Frames per latency band.",
		}, []string{"band"}),
		bandPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "band_percent",
			Help:      "Share of frames per latency band.",
		}, []string{"band"}),
		frameDrops: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_drops",
			Help:      "Frames slower than the 60Hz target.",
		}),
		stutters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stutters",
			Help:      "Frames slower than twice the mean frame time.",
		}),
		spikeGap: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spike_gap_frames",
			Help:      "Index gap statistics between consecutive spike frames.",
		}, []string{"stat"}),
		periodicity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spike_periodicity",
			Help:      "Spike periodicity verdict, 1 for the current verdict.",
		}, []string{"verdict"}),
		stageMean: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_mean_ms",
			Help:      "Mean time per frame stage, including unaccounted time.",
		}, []string{"field"}),
		score: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Overall score of the last analyzed capture (0-100).",
		}),
		reportsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports observed by this process.",
		}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// Registry 返回底层注册表
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Observe 用报告刷新全部指标，上一份报告的标签会被清除
func (e *Exporter) Observe(r *analysis.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reportsTotal.Inc()
	e.frames.Set(float64(r.Series.Frames))

	e.frameTime.Reset()
	if ft := r.FrameTime(); !ft.NoData() {
		e.frameTime.WithLabelValues("mean").Set(ft.Mean)
		e.frameTime.WithLabelValues("min").Set(ft.Min)
		e.frameTime.WithLabelValues("max").Set(ft.Max)
		if ft.StdDev != nil {
			e.frameTime.WithLabelValues("std_dev").Set(*ft.StdDev)
		}
		for _, p := range ft.Percentiles {
			e.frameTime.WithLabelValues("p" + strconv.Itoa(p.Rank)).Set(p.Value)
		}
	}

	e.bandFrames.Reset()
	e.bandPercent.Reset()
	for _, b := range r.Bands {
		e.bandFrames.WithLabelValues(b.Band.String()).Set(float64(b.Count))
		e.bandPercent.WithLabelValues(b.Band.String()).Set(b.Percent)
	}

	e.frameDrops.Set(float64(r.FrameDrops.Count))
	e.stutters.Set(float64(r.Stutters.Count))

	e.spikeGap.Reset()
	if g := r.Periodicity.IndexGaps; g != nil {
		e.spikeGap.WithLabelValues("mean").Set(g.Mean)
		e.spikeGap.WithLabelValues("std_dev").Set(g.StdDev)
		e.spikeGap.WithLabelValues("mode").Set(float64(g.Mode))
	}
	for _, v := range []analysis.Verdict{
		analysis.VerdictInsufficientData, analysis.VerdictDeterministic,
		analysis.VerdictStrong, analysis.VerdictIrregular,
	} {
		val := 0.0
		if r.Periodicity.Verdict == v {
			val = 1
		}
		e.periodicity.WithLabelValues(string(v)).Set(val)
	}

	e.stageMean.Reset()
	if att := r.Attribution; att != nil {
		for _, st := range att.Stages {
			e.stageMean.WithLabelValues(st.Field).Set(st.MeanMs)
		}
		e.stageMean.WithLabelValues("unaccounted_ms").Set(att.UnaccountedMeanMs)
	}

	e.score.Set(r.Findings.Score)
}

// ObserveRequest 记录一次 HTTP 请求耗时
func (e *Exporter) ObserveRequest(method, route string, code int, seconds float64) {
	e.httpDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(seconds)
}

// Handler /metrics 处理器
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// WriteTextfile 写出 node_exporter textfile collector 格式文件
func (e *Exporter) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("write prometheus textfile: %w", err)
	}
	return nil
}
