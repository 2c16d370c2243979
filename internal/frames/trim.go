package frames

import (
	"errors"
	"fmt"
)

// DefaultWarmupFrames 默认跳过的预热帧数
const DefaultWarmupFrames = 30

// ErrInsufficientData 采样数不足以跳过预热帧，使用完整序列
var ErrInsufficientData = errors.New("insufficient data for warm-up trim")

// TrimResult 预热裁剪结果
type TrimResult struct {
	Series    *Series
	Original  int
	Requested int
	Applied   int
	// Warning 为 ErrInsufficientData（包装）或 nil
	Warning error
}

// Remaining 裁剪后的采样数
func (r TrimResult) Remaining() int {
	return r.Series.Len()
}

// Trim 丢弃前 skip 个预热帧；返回的序列是拷贝，下标从 0 重新开始。
// 当 len <= skip 时保留完整序列并返回 ErrInsufficientData 警告。
func Trim(s *Series, skip int) TrimResult {
	if skip < 0 {
		skip = 0
	}
	n := s.Len()
	res := TrimResult{
		Original:  n,
		Requested: skip,
	}

	if s == nil {
		res.Series = NewSeries(nil, nil)
		if skip > 0 {
			res.Warning = fmt.Errorf("%w: 0 samples, warm-up skip %d", ErrInsufficientData, skip)
		}
		return res
	}

	out := s.Clone()
	if n > skip {
		out.Samples = out.Samples[skip:]
		res.Applied = skip
	} else if skip > 0 {
		res.Warning = fmt.Errorf("%w: %d samples, warm-up skip %d; using all data",
			ErrInsufficientData, n, skip)
	}
	res.Series = out
	return res
}
