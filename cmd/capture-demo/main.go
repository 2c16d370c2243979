package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"FrameTimeAnalyzer/internal/analysis"
	"FrameTimeAnalyzer/internal/capture"
	"FrameTimeAnalyzer/internal/report"
)

// simClock 模拟时钟，每个阶段直接推进而不真正等待
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) advance(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Duration(ms * float64(time.Millisecond)))
}

// stage 模拟的帧阶段
type stage struct {
	name   string
	baseMs float64
	jitter float64
}

var stages = []stage{
	{"Poll Events", 0.05, 0.02},
	{"Begin Frame", 0.10, 0.03},
	{"Render Components", 0.60, 0.20},
	{"End Frame", 0.15, 0.05},
}

func main() {
	var (
		frames   = pflag.IntP("frames", "n", 600, "帧数")
		period   = pflag.Int("hitch-period", 37, "每隔多少帧出现一次卡顿，0 表示不卡顿")
		hitchMs  = pflag.Float64("hitch-ms", 12, "卡顿帧额外耗时(ms)")
		warmup   = pflag.Int("warmup", 30, "分析时跳过的预热帧数")
		seed     = pflag.Int64("seed", 1, "随机种子")
		out      = pflag.StringP("out", "o", "frame_times.csv", "CSV 输出路径")
		showJSON = pflag.Bool("json", false, "以 JSON 输出分析报告")
	)
	pflag.Parse()

	logrus.SetLevel(logrus.WarnLevel)

	fmt.Println("🎮 帧时间采集演示")
	fmt.Println("==================================")
	fmt.Println()

	// 1. 录制
	fmt.Printf("📹 录制 %d 帧 (每 %d 帧一次 %.1fms 卡顿)...\n", *frames, *period, *hitchMs)
	clock := &simClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := capture.NewRecorder(capture.WithClock(clock.Now))
	rng := rand.New(rand.NewSource(*seed))

	for i := 0; i < *frames; i++ {
		if err := rec.BeginFrame(); err != nil {
			fail("开始帧失败", err)
		}
		for _, st := range stages {
			ms := st.baseMs + (rng.Float64()*2-1)*st.jitter
			if st.name == "Render Components" && *period > 0 && i%*period == 0 {
				ms += *hitchMs
			}
			stop := rec.Time(st.name)
			clock.advance(ms)
			stop()
		}
		if err := rec.IncrementCounter("Draw Calls", float64(10+rng.Intn(5))); err != nil {
			fail("计数失败", err)
		}
		// 阶段之外的帧耗时
		clock.advance(0.05 + rng.Float64()*0.05)
		if _, err := rec.EndFrame(); err != nil {
			fail("结束帧失败", err)
		}
		// 帧间空闲
		clock.advance(0.2)
	}

	stats := rec.Stats()
	fmt.Printf("✅ 录制完成: %d 帧, %d 帧超出 %.2fms 预算\n", stats.FramesRecorded, stats.FramesOverBudget, stats.FrameBudgetMs)
	if p99, ok := rec.LiveQuantile(0.99); ok {
		fmt.Printf("   📈 实时 p99: %.3f ms\n", p99)
	}
	for _, st := range stats.Stages {
		fmt.Printf("   %-20s avg %.3f ms  min %.3f  max %.3f  (%.1f%%)\n", st.Name, st.Average, st.Min, st.Max, st.Percent)
	}

	// 2. 写出 CSV
	series := rec.Series()
	if err := capture.WriteCSVFile(*out, series); err != nil {
		fail("写出CSV失败", err)
	}
	fmt.Printf("\n💾 已写出 %s\n", *out)

	// 3. 分析
	fmt.Println("\n🔍 分析采集数据...")
	fmt.Println()
	opts := analysis.DefaultOptions()
	opts.WarmupFrames = *warmup
	r := analysis.Analyze(series, opts)
	r.Identify(*out, time.Now())

	format := report.FormatText
	if *showJSON {
		format = report.FormatJSON
	}
	if err := report.Write(os.Stdout, r, format); err != nil {
		fail("输出报告失败", err)
	}
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", msg, err)
	os.Exit(1)
}
