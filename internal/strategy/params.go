package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Params 是策略参数，值来自 YAML 文件或 HTTP 请求。
type Params map[string]any

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func (p Params) Float(key string, def float64) float64 {
	if v, ok := number(p[key]); ok {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) int {
	if v, ok := number(p[key]); ok {
		return int(v)
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Floats 读取数字数组，非数字元素被跳过。
func (p Params) Floats(key string) []float64 {
	var out []float64
	switch list := p[key].(type) {
	case []any:
		for _, v := range list {
			if f, ok := number(v); ok {
				out = append(out, f)
			}
		}
	case []float64:
		out = append(out, list...)
	}
	return out
}

// Tier 是分批止盈的一档：离入场价的比例与平仓占比。
type Tier struct {
	Pct   float64
	Ratio float64
}

func (p Params) Tiers(key string) []Tier {
	list, _ := p[key].([]any)
	out := make([]Tier, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pct, _ := number(m["pct"])
		ratio, _ := number(m["ratio"])
		out = append(out, Tier{Pct: pct, Ratio: ratio})
	}
	return out
}

// merge 按顺序覆盖，后者优先。
func merge(layers ...Params) Params {
	out := Params{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// ParamsFile 映射 strategies 参数文件。
type ParamsFile struct {
	Strategies map[string]Params `yaml:"strategies"`
}

// LoadParamsFile 读取 YAML 参数文件，未知的顶层字段视为错误。
func LoadParamsFile(path string) (map[string]Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy params failed: %w", err)
	}
	var file ParamsFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse strategy params failed: %w", err)
	}
	out := make(map[string]Params, len(file.Strategies))
	for name, p := range file.Strategies {
		out[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return out, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// sanitizeParams 递归地把参数转成 JSON 形态：整数转 float64，数字字符串转数字。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case Params:
		return sanitizeParams(map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = f
		}
		return out
	case int, int64, float32, json.Number:
		f, _ := number(val)
		return f
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
