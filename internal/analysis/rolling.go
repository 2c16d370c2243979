package analysis

// DefaultRollingWindow 滑动平均窗口（帧数）
const DefaultRollingWindow = 60

// Window 一个滑动窗口
type Window struct {
	Start  int     `json:"start"`
	MeanMs float64 `json:"mean_ms"`
}

// Rolling 滑动平均帧耗时的最差/最好窗口
type Rolling struct {
	Window int    `json:"window"`
	Worst  Window `json:"worst"`
	Best   Window `json:"best"`
}

// RollingExtremes 计算长度为 w 的滑动平均中的极值窗口；帧数不超过窗口时返回 nil
func RollingExtremes(values []float64, w int) *Rolling {
	if w <= 0 || len(values) <= w {
		return nil
	}

	sum := 0.0
	for _, v := range values[:w] {
		sum += v
	}
	mean := sum / float64(w)
	r := &Rolling{
		Window: w,
		Worst:  Window{Start: 0, MeanMs: mean},
		Best:   Window{Start: 0, MeanMs: mean},
	}

	for start := 1; start+w <= len(values); start++ {
		sum += values[start+w-1] - values[start-1]
		mean = sum / float64(w)
		if mean > r.Worst.MeanMs {
			r.Worst = Window{Start: start, MeanMs: mean}
		}
		if mean < r.Best.MeanMs {
			r.Best = Window{Start: start, MeanMs: mean}
		}
	}
	return r
}
