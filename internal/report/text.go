package report

import (
	"bufio"
	"fmt"
	"io"
	"text/tabwriter"

	"FrameTimeAnalyzer/internal/analysis"
	"FrameTimeAnalyzer/internal/frames"
)

// Text 写出控制台文本报告
func Text(w io.Writer, r *analysis.Report) error {
	bw := bufio.NewWriter(w)
	p := &printer{w: bw}

	p.header(r)
	p.basic(r)
	p.percentiles(r)
	p.detectors(r)
	p.attribution(r)
	p.bands(r)
	p.periodicity(r)
	p.rolling(r)
	p.findings(r)

	if p.err != nil {
		return p.err
	}
	return bw.Flush()
}

// printer 记录第一次写错误，后续写入忽略
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) header(r *analysis.Report) {
	if r.Series.WarmupApplied > 0 {
		p.printf("Note: Skipped first %d frames (initialization)\n", r.Series.WarmupApplied)
	}
	for _, warn := range r.Warnings {
		p.printf("Warning: %s\n", warn)
	}
	p.printf("=== Frame Time Analysis ===\n")
	if r.ID != "" {
		p.printf("Report: %s\n", r.ID)
	}
	if r.Source != "" {
		p.printf("Source: %s\n", r.Source)
	}
	p.printf("\n")
}

func (p *printer) basic(r *analysis.Report) {
	p.printf("Basic Statistics:\n")
	p.printf("Total frames: %d\n", r.Series.Frames)
	if r.Series.RuntimeSeconds != nil {
		p.printf("Runtime: %.2f seconds\n", *r.Series.RuntimeSeconds)
	} else {
		p.printf("Runtime: no data\n")
	}

	ft := r.FrameTime()
	if ft.NoData() {
		p.printf("Frame time: no data\n\n")
		return
	}
	if fps, ok := r.Field(frames.FieldFPS.String()); ok && !fps.NoData() {
		p.printf("Average FPS: %.2f\n", fps.Mean)
	}
	p.printf("Average frame time: %.3f ms\n", ft.Mean)
	p.printf("Min frame time: %.3f ms\n", ft.Min)
	p.printf("Max frame time: %.3f ms\n", ft.Max)
	if ft.StdDev != nil {
		p.printf("Frame time std dev: %.3f ms\n", *ft.StdDev)
	} else {
		p.printf("Frame time std dev: n/a\n")
	}
	p.printf("\n")
}

func (p *printer) percentiles(r *analysis.Report) {
	ft := r.FrameTime()
	if ft.NoData() {
		return
	}
	p.printf("Performance Percentiles:\n")
	for _, pc := range ft.Percentiles {
		if pc.FPS != nil {
			p.printf("%dth percentile: %.3f ms (%.1f FPS)\n", pc.Rank, pc.Value, *pc.FPS)
		} else {
			p.printf("%dth percentile: %.3f ms\n", pc.Rank, pc.Value)
		}
	}
	p.printf("\n")
}

func (p *printer) detectors(r *analysis.Report) {
	p.printf("Frame drops (>%.2fms): %d (%.2f%%)\n", r.FrameDrops.ThresholdMs, r.FrameDrops.Count, r.FrameDrops.Percent)
	p.printf("Stutters (>%gx avg): %d (%.2f%%)\n", analysis.StutterMultiplier, r.Stutters.Count, r.Stutters.Percent)
	p.printf("\n")
}

func (p *printer) attribution(r *analysis.Report) {
	att := r.Attribution
	if att == nil {
		return
	}
	p.printf("Stage Attribution (mean frame %.3f ms):\n", att.FrameTimeMeanMs)
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, st := range att.Stages {
		fmt.Fprintf(tw, "  %s\t%.3f ms\t%5.1f%%\n", st.Field, st.MeanMs, st.SharePct)
	}
	fmt.Fprintf(tw, "  %s\t%.3f ms\t%5.1f%%\n", frames.FieldUnaccounted, att.UnaccountedMeanMs, att.UnaccountedSharePct)
	p.flush(tw)
	p.printf("\n")
}

func (p *printer) bands(r *analysis.Report) {
	if len(r.Bands) == 0 {
		return
	}
	p.printf("Latency Bands:\n")
	for _, b := range r.Bands {
		rng := fmt.Sprintf("(%.1f, ∞)", b.LowerMs)
		if b.UpperMs != nil {
			rng = fmt.Sprintf("(%.1f, %.1f]", b.LowerMs, *b.UpperMs)
		}
		p.printf("%s %s ms: %d frames (%.2f%%)\n", b.Label, rng, b.Count, b.Percent)

		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "  field\tmean\tmin\tmax\tp50\tp99\n")
		for _, fs := range b.Fields {
			p50, _ := fs.PercentileValue(50)
			p99, _ := fs.PercentileValue(99)
			fmt.Fprintf(tw, "  %s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n", fs.Field, fs.Mean, fs.Min, fs.Max, p50, p99)
		}
		p.flush(tw)
	}
	p.printf("\n")
}

func (p *printer) periodicity(r *analysis.Report) {
	per := r.Periodicity
	p.printf("Spike Periodicity: %s (%d spike frames)\n", per.Verdict.Label(), per.SpikeFrames)
	if g := per.IndexGaps; g != nil {
		p.printf("  index gap mean %.2f, std %.2f, mode %d, range [%d, %d]\n", g.Mean, g.StdDev, g.Mode, g.Min, g.Max)
	}
	if per.MeanTimeGapMs != nil {
		p.printf("  mean time between spikes %.3f ms\n", *per.MeanTimeGapMs)
	}
	p.printf("\n")
}

func (p *printer) rolling(r *analysis.Report) {
	if r.Rolling == nil {
		return
	}
	p.printf("Rolling Average (%d frames):\n", r.Rolling.Window)
	p.printf("  worst %.3f ms at frame %d\n", r.Rolling.Worst.MeanMs, r.Rolling.Worst.Start)
	p.printf("  best  %.3f ms at frame %d\n", r.Rolling.Best.MeanMs, r.Rolling.Best.Start)
	p.printf("\n")
}

func (p *printer) findings(r *analysis.Report) {
	f := r.Findings
	p.printf("Score: %.1f (%s)\n", f.Score, f.Grade)
	for _, is := range f.Issues {
		p.printf("  [%s] %s %s: %s\n", is.Severity, is.ID, is.Title, is.Description)
	}
	for _, s := range f.Suggestions {
		p.printf("  -> %s %s\n", s.ID, s.Title)
		for _, a := range s.Actions {
			p.printf("     * %s\n", a)
		}
	}
}

func (p *printer) flush(tw *tabwriter.Writer) {
	if p.err != nil {
		return
	}
	p.err = tw.Flush()
}
