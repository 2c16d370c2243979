package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"FrameTimeAnalyzer/internal/logger"
	"FrameTimeAnalyzer/internal/report"
	"FrameTimeAnalyzer/internal/wsclient"
)

func newTailCommand(a *app) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live feed of a running frametime server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			c := wsclient.New(wsclient.DefaultClientConfig(url), a.log)
			c.SetMessageHandler(func(msg logger.Message) { printFeedMessage(out, msg) })
			c.SetStateChangeHandler(func(_, s wsclient.ClientState) {
				if s == wsclient.StateReconnecting {
					fmt.Fprintln(out, "🔄 reconnecting...")
				}
			})
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "live feed URL")
	return cmd
}

// printFeedMessage 输出一条实时消息
func printFeedMessage(out io.Writer, msg logger.Message) {
	ts := msg.Timestamp.Format("15:04:05")
	switch msg.Type {
	case logger.MessageReport:
		var s report.Summary
		if data, err := json.Marshal(msg.Data); err == nil && json.Unmarshal(data, &s) == nil {
			fmt.Fprintf(out, "%s 📊 %s %s: %d frames, mean %.3f ms, p99 %.3f ms, drops %d, periodicity %s, grade %s\n",
				ts, s.ID, s.Source, s.Frames, s.MeanFrameMs, s.P99FrameMs, s.FrameDrops, s.Periodicity, s.Grade)
			return
		}
		fmt.Fprintf(out, "%s 📊 %v\n", ts, msg.Data)
	case logger.MessageLog:
		fmt.Fprintf(out, "%s [%s] %s: %s\n", ts, msg.Level, msg.Module, msg.Message)
	default:
		fmt.Fprintf(out, "%s ✅ %s\n", ts, msg.Message)
	}
}
