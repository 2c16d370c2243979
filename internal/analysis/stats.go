package analysis

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// PercentileRanks 固定统计的百分位
var PercentileRanks = []int{50, 90, 95, 99}

// Percentile 单个百分位结果
type Percentile struct {
	Rank  int     `json:"rank"`
	Value float64 `json:"value"`
	// FPS 仅帧耗时字段给出，等于 1000/Value
	FPS *float64 `json:"fps,omitempty"`
}

// Summary 单字段描述统计。Count 为 0 时序列化为 no_data
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	// StdDev 样本标准差 (N-1)，少于两个值时不存在
	StdDev      *float64     `json:"std_dev,omitempty"`
	Percentiles []Percentile `json:"percentiles,omitempty"`
}

// NoData 是否没有可统计的数据
func (s Summary) NoData() bool {
	return s.Count == 0
}

// PercentileValue 返回指定百分位的值
func (s Summary) PercentileValue(rank int) (float64, bool) {
	for _, p := range s.Percentiles {
		if p.Rank == rank {
			return p.Value, true
		}
	}
	return 0, false
}

// MarshalJSON 无数据时只输出 count 和 no_data 标记
func (s Summary) MarshalJSON() ([]byte, error) {
	if s.NoData() {
		return json.Marshal(struct {
			Count  int  `json:"count"`
			NoData bool `json:"no_data"`
		}{0, true})
	}
	type plain Summary
	return json.Marshal(plain(s))
}

// FieldSummary 带字段名的统计
type FieldSummary struct {
	Field string `json:"field"`
	Summary
}

// MarshalJSON 展开内嵌统计字段
func (f FieldSummary) MarshalJSON() ([]byte, error) {
	inner, err := f.Summary.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, err
	}
	name, _ := json.Marshal(f.Field)
	m["field"] = name
	return json.Marshal(m)
}

// Summarize 计算描述统计，不修改输入
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	min, max := stats.Bounds(sorted)
	sum := Summary{
		Count: n,
		Mean:  stats.Mean(values),
		Min:   min,
		Max:   max,
	}
	if n > 1 {
		sd := stats.StdDev(values)
		sum.StdDev = &sd
	}

	sum.Percentiles = make([]Percentile, 0, len(PercentileRanks))
	for _, rank := range PercentileRanks {
		sum.Percentiles = append(sum.Percentiles, Percentile{
			Rank:  rank,
			Value: PercentileSorted(sorted, float64(rank)),
		})
	}
	return sum
}

// SummarizeFrameTime 在 Summarize 基础上为每个百分位补充等效瞬时 FPS
func SummarizeFrameTime(values []float64) Summary {
	sum := Summarize(values)
	for i := range sum.Percentiles {
		if v := sum.Percentiles[i].Value; v > 0 {
			fps := 1000.0 / v
			sum.Percentiles[i].FPS = &fps
		}
	}
	return sum
}

// PercentileSorted 对已排序数据做线性插值百分位 (rank = p/100*(n-1))
func PercentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	v := sorted[lo] + (sorted[hi]-sorted[lo])*frac
	// 浮点舍入不能越过相邻顺序统计量
	return math.Min(math.Max(v, sorted[lo]), sorted[hi])
}

// Mode 众数，出现次数相同时取最小值
func Mode(values []int) (int, bool) {
	if len(values) == 0 {
		return 0, false
	}
	counts := make(map[int]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := 0, 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best, true
}
