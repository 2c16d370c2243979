package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"FrameTimeAnalyzer/internal/analysis"
	"FrameTimeAnalyzer/internal/capture"
	"FrameTimeAnalyzer/internal/metrics"
	"FrameTimeAnalyzer/internal/report"
)

// analyzeJob 一次分析的输入输出
type analyzeJob struct {
	path         string
	opts         analysis.Options
	format       report.Format
	promTextfile string
	now          func() time.Time
	log          logrus.FieldLogger
}

// run 读取采集文件、分析并写出报告
func (j analyzeJob) run(out io.Writer) (*analysis.Report, error) {
	series, err := capture.ReadCSVFile(j.path)
	if err != nil {
		return nil, err
	}

	r := analysis.NewAnalyzer(j.opts, j.log).Analyze(series)
	r.Identify(filepath.Base(j.path), j.now())

	if err := report.Write(out, r, j.format); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	if j.promTextfile != "" {
		exporter := metrics.NewExporter(false)
		exporter.Observe(r)
		if err := exporter.WriteTextfile(j.promTextfile); err != nil {
			return nil, err
		}
		j.log.WithField("path", j.promTextfile).Debug("Prometheus textfile已写出")
	}
	return r, nil
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "analyze <capture.csv>",
		Aliases: []string{"a"},
		Short:   "Analyze a frame-time capture and print the report",
		Example: "  frametime analyze frame_times.csv --warmup 30\n  frametime analyze frame_times.csv --format json -o report.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.job(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			r, err := job.run(out)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"module": "cli",
				"id":     r.ID,
				"frames": r.Series.Frames,
				"grade":  r.Findings.Grade,
			}).Debug("分析完成")
			return nil
		},
	}

	addAnalysisFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

// addAnalysisFlags analyze 和 watch 共用的参数，名字与 config.BindFlags 对应
func addAnalysisFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("warmup", 30, "warm-up frames to skip")
	f.Int("window", analysis.DefaultRollingWindow, "rolling window in frames")
	f.String("format", "text", "report format: text, json or pb")
	f.String("prom-textfile", "", "also write Prometheus textfile metrics to this path")
}

// job 由已加载的配置构建分析任务
func (a *app) job(path string) (analyzeJob, error) {
	format, err := report.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return analyzeJob{}, err
	}
	return analyzeJob{
		path:         path,
		opts:         a.cfg.AnalysisOptions(),
		format:       format,
		promTextfile: a.cfg.Output.PrometheusTextfile,
		now:          time.Now,
		log:          a.log,
	}, nil
}
