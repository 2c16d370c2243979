package frames

import "fmt"

// Band 延迟分级，零值表示尚未分级
type Band int

const (
	BandUnclassified Band = iota
	BandUltraFast
	BandFast
	BandMedium
	BandSpike
)

// String 实现字符串接口
func (b Band) String() string {
	switch b {
	case BandUltraFast:
		return "ultra_fast"
	case BandFast:
		return "fast"
	case BandMedium:
		return "medium"
	case BandSpike:
		return "spike"
	default:
		return "unclassified"
	}
}

// Label 报告中使用的展示名
func (b Band) Label() string {
	switch b {
	case BandUltraFast:
		return "Ultra-fast"
	case BandFast:
		return "Fast"
	case BandMedium:
		return "Medium"
	case BandSpike:
		return "Spike"
	default:
		return "Unclassified"
	}
}

// MarshalText 以字符串形式序列化
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText 从字符串解析
func (b *Band) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ultra_fast":
		*b = BandUltraFast
	case "fast":
		*b = BandFast
	case "medium":
		*b = BandMedium
	case "spike":
		*b = BandSpike
	case "unclassified", "":
		*b = BandUnclassified
	default:
		return fmt.Errorf("unknown band %q", text)
	}
	return nil
}
