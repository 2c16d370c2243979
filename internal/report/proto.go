package report

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"FrameTimeAnalyzer/internal/analysis"
)

// ToStruct 将报告转换为 protobuf Struct，字段名与 JSON 一致
func ToStruct(r *analysis.Report) (*structpb.Struct, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal report map: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build report struct: %w", err)
	}
	return st, nil
}

// FromStruct 从 protobuf Struct 还原报告
func FromStruct(st *structpb.Struct) (*analysis.Report, error) {
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal report struct: %w", err)
	}
	var r analysis.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// EncodeProto 二进制编码报告
func EncodeProto(r *analysis.Report) ([]byte, error) {
	st, err := ToStruct(r)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode report proto: %w", err)
	}
	return data, nil
}

// DecodeProto 解码 EncodeProto 的输出
func DecodeProto(data []byte) (*analysis.Report, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode report proto: %w", err)
	}
	return FromStruct(st)
}

// ProtoJSON 以 protojson 形式输出，便于调试二进制报告
func ProtoJSON(data []byte) ([]byte, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode report proto: %w", err)
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
}
