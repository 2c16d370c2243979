package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"FrameTimeAnalyzer/internal/analysis"
)

// Format 报告输出格式
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatProto Format = "pb"
)

// ContentTypeProto protobuf 报告的 MIME 类型
const ContentTypeProto = "application/x-protobuf"

// ParseFormat 解析格式名，大小写不敏感
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "pb", "proto", "protobuf":
		return FormatProto, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, json or pb)", s)
	}
}

// ContentType 格式对应的 HTTP Content-Type
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatProto:
		return ContentTypeProto
	default:
		return "text/plain; charset=utf-8"
	}
}

// Write 按格式写出报告
func Write(w io.Writer, r *analysis.Report, format Format) error {
	switch format {
	case FormatText:
		return Text(w, r)
	case FormatJSON:
		return JSON(w, r)
	case FormatProto:
		data, err := EncodeProto(r)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// JSON 写出缩进JSON
func JSON(w io.Writer, r *analysis.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report json: %w", err)
	}
	return nil
}

// Summary 报告摘要，用于列表和实时推送
type Summary struct {
	ID           string  `json:"id"`
	Source       string  `json:"source,omitempty"`
	GeneratedAt  string  `json:"generated_at,omitempty"`
	Frames       int     `json:"frames"`
	MeanFrameMs  float64 `json:"mean_frame_ms"`
	P99FrameMs   float64 `json:"p99_frame_ms"`
	FrameDrops   int     `json:"frame_drops"`
	Stutters     int     `json:"stutters"`
	Periodicity  string  `json:"periodicity"`
	Grade        string  `json:"grade"`
	WarningCount int     `json:"warning_count"`
}

// Summarize 提取报告摘要
func Summarize(r *analysis.Report) Summary {
	ft := r.FrameTime()
	p99, _ := ft.PercentileValue(99)
	s := Summary{
		ID:           r.ID,
		Source:       r.Source,
		Frames:       r.Series.Frames,
		MeanFrameMs:  ft.Mean,
		P99FrameMs:   p99,
		FrameDrops:   r.FrameDrops.Count,
		Stutters:     r.Stutters.Count,
		Periodicity:  string(r.Periodicity.Verdict),
		Grade:        r.Findings.Grade,
		WarningCount: len(r.Warnings),
	}
	if r.GeneratedAt != nil {
		s.GeneratedAt = r.GeneratedAt.Format(time.RFC3339)
	}
	return s
}
