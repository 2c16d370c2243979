package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"FrameTimeAnalyzer/internal/frames"
)

var (
	// ErrEmptyCapture 输入没有表头
	ErrEmptyCapture = errors.New("empty capture")
	// ErrMissingColumn 缺少必需列
	ErrMissingColumn = errors.New("missing required column")
	// ErrNegativeValue 耗时为负
	ErrNegativeValue = errors.New("negative duration")
	// ErrTimestampOrder 时间戳倒退
	ErrTimestampOrder = errors.New("timestamp goes backwards")
	// ErrBadNumber 非数值单元格
	ErrBadNumber = errors.New("invalid number")
)

// ParseError 带行列位置的解析错误
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("capture line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("capture line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// columnKind 列用途
type columnKind int

const (
	colIgnored columnKind = iota
	colTimestamp
	colFrameTime
	colFPS
	colStage
	colCounter
)

type column struct {
	name  string
	kind  columnKind
	index int // 在 Stages 或 Counters 中的下标
}

// layout 表头解析结果，对所有行统一
type layout struct {
	columns  []column
	stages   []frames.Field
	counters []frames.Field
	hasFPS   bool
}

func parseHeader(header []string) (*layout, error) {
	l := &layout{columns: make([]column, len(header))}
	seen := make(map[string]bool, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		if name != "" && seen[name] {
			return nil, &ParseError{Line: 1, Column: name, Err: errors.New("duplicate column")}
		}
		seen[name] = true

		f := frames.Field(name)
		col := column{name: name}
		switch {
		case name == "":
			col.kind = colIgnored
		case f == frames.FieldTimestamp:
			col.kind = colTimestamp
		case f == frames.FieldFrameTime:
			col.kind = colFrameTime
		case f == frames.FieldFPS:
			col.kind = colFPS
			l.hasFPS = true
		case f == frames.FieldUnaccounted:
			// 派生列，读入时重新计算
			col.kind = colIgnored
		case f.IsStage():
			col.kind = colStage
			col.index = len(l.stages)
			l.stages = append(l.stages, f)
		default:
			col.kind = colCounter
			col.index = len(l.counters)
			l.counters = append(l.counters, f)
		}
		l.columns[i] = col
	}

	for _, required := range []frames.Field{frames.FieldTimestamp, frames.FieldFrameTime} {
		if !seen[required.String()] {
			return nil, &ParseError{Line: 1, Column: required.String(), Err: ErrMissingColumn}
		}
	}
	return l, nil
}

// ReadCSV 读取采集CSV。表头决定列布局：以 _ms 结尾的非保留列是阶段耗时，
// 其余数值列是计数器；fps 缺失时由帧耗时推导。
func ReadCSV(r io.Reader) (*frames.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyCapture
	}
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	l, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	series := frames.NewSeries(l.stages, l.counters)
	prevTs := 0.0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &ParseError{Line: pe.Line, Err: pe.Err}
			}
			return nil, fmt.Errorf("read capture: %w", err)
		}
		line, _ := cr.FieldPos(0)

		sample, err := l.parseRecord(record, line)
		if err != nil {
			return nil, err
		}
		if series.Len() > 0 && sample.TimestampMs < prevTs {
			return nil, &ParseError{
				Line:   line,
				Column: frames.FieldTimestamp.String(),
				Err:    fmt.Errorf("%w: %.3f after %.3f", ErrTimestampOrder, sample.TimestampMs, prevTs),
			}
		}
		prevTs = sample.TimestampMs
		if err := series.Append(sample); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
	}
	return series, nil
}

func (l *layout) parseRecord(record []string, line int) (frames.Sample, error) {
	sample := frames.Sample{
		Stages:   make([]float64, len(l.stages)),
		Counters: make([]float64, len(l.counters)),
	}
	var haveTs, haveFrame, haveFPS bool

	for i, col := range l.columns {
		if col.kind == colIgnored {
			continue
		}
		cell := strings.TrimSpace(record[i])
		if cell == "" {
			switch col.kind {
			case colTimestamp, colFrameTime:
				return sample, &ParseError{Line: line, Column: col.name, Err: errors.New("empty required value")}
			}
			// 可选列空值按 0 处理
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = strconv.ErrRange
		}
		if err != nil {
			return sample, &ParseError{Line: line, Column: col.name, Err: fmt.Errorf("%w %q", ErrBadNumber, cell)}
		}

		switch col.kind {
		case colTimestamp:
			sample.TimestampMs, haveTs = v, true
		case colFrameTime:
			if v < 0 {
				return sample, &ParseError{Line: line, Column: col.name, Err: fmt.Errorf("%w: %.3f", ErrNegativeValue, v)}
			}
			sample.FrameTimeMs, haveFrame = v, true
		case colFPS:
			sample.FPS, haveFPS = v, true
		case colStage:
			if v < 0 {
				return sample, &ParseError{Line: line, Column: col.name, Err: fmt.Errorf("%w: %.3f", ErrNegativeValue, v)}
			}
			sample.Stages[col.index] = v
		case colCounter:
			sample.Counters[col.index] = v
		}
	}

	if !haveTs || !haveFrame {
		return sample, &ParseError{Line: line, Err: ErrMissingColumn}
	}
	if !haveFPS {
		sample.FPS = DeriveFPS(sample.FrameTimeMs)
	}
	return sample, nil
}

// DeriveFPS 由帧耗时推导瞬时帧率，零耗时返回 0
func DeriveFPS(frameTimeMs float64) float64 {
	if frameTimeMs <= 0 {
		return 0
	}
	return 1000 / frameTimeMs
}

// ReadCSVFile 从文件读取采集
func ReadCSVFile(path string) (*frames.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	s, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteCSV 写出采集CSV，列顺序为 timestamp_ms,frame_time_ms,fps,计数器,阶段[,unaccounted_ms]，保留三位小数
func WriteCSV(w io.Writer, s *frames.Series) error {
	cw := csv.NewWriter(w)

	header := []string{frames.FieldTimestamp.String(), frames.FieldFrameTime.String(), frames.FieldFPS.String()}
	for _, c := range s.Counters {
		header = append(header, c.String())
	}
	for _, st := range s.Stages {
		header = append(header, st.String())
	}
	if s.Attributed {
		header = append(header, frames.FieldUnaccounted.String())
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write capture header: %w", err)
	}

	record := make([]string, 0, len(header))
	for i, sm := range s.Samples {
		record = record[:0]
		record = append(record, formatMs(sm.TimestampMs), formatMs(sm.FrameTimeMs), formatMs(sm.FPS))
		for _, c := range sm.Counters {
			record = append(record, strconv.FormatFloat(c, 'f', -1, 64))
		}
		for _, v := range sm.Stages {
			record = append(record, formatMs(v))
		}
		if s.Attributed {
			record = append(record, formatMs(sm.UnaccountedMs))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write capture frame %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile 写出采集到文件
func WriteCSVFile(path string, s *frames.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	if err := WriteCSV(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
