package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// debounceDelay 合并同一次保存产生的多个文件事件
const debounceDelay = 200 * time.Millisecond

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <capture.csv>",
		Short: "Re-run the analysis whenever the capture file is rewritten",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.job(args[0])
			if err != nil {
				return err
			}
			return watchCapture(cmd.Context(), job, cmd.OutOrStdout())
		},
	}
	addAnalysisFlags(cmd)
	return cmd
}

// watchCapture 先分析一次，然后在文件变化后重新分析，直到 ctx 结束。
// 监控所在目录，编辑器以重命名方式保存文件时同样能收到事件。
func watchCapture(ctx context.Context, job analyzeJob, out io.Writer) error {
	log := job.log.WithField("module", "watch")

	target, err := filepath.Abs(job.path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	analyze := func() {
		if _, err := job.run(out); err != nil {
			// 采集程序可能正在写入，等待下一次事件
			log.WithError(err).Warn("分析失败")
			return
		}
		fmt.Fprintf(out, "\n👀 watching %s (Ctrl+C to stop)\n", job.path)
	}
	analyze()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				timer.Reset(debounceDelay)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			log.WithField("file", job.path).Debug("采集文件已更新")
			analyze()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("文件监控错误")
		}
	}
}
