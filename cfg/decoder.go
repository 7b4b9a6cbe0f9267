package cfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Decoder 把配置文件解码为 map[string]any / []any / 标量组成的树
type Decoder interface {
	Decode(data []byte) (any, error)
}

type JsonDecoder struct{}

func (JsonDecoder) Decode(data []byte) (any, error) {
	var v any
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "json decode failed")
	}
	return normalize(v), nil
}

type YamlDecoder struct{}

func (YamlDecoder) Decode(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "yaml decode failed")
	}
	return normalize(v), nil
}

type TomlDecoder struct{}

func (TomlDecoder) Decode(data []byte) (any, error) {
	var v map[string]any
	if _, err := toml.Decode(string(data), &v); err != nil {
		return nil, errors.Wrap(err, "toml decode failed")
	}
	return normalize(v), nil
}

// IniDecoder section 对应一级 key，key 中的 . 表示嵌套
//
//	[transport]
//	type = HTTPTransport
//	options.baseURL = http://localhost:8080
type IniDecoder struct{}

func (IniDecoder) Decode(data []byte) (any, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "ini decode failed")
	}

	root := map[string]any{}
	for _, section := range f.Sections() {
		target := root
		if section.Name() != ini.DefaultSection {
			target = ensureMap(root, strings.Split(section.Name(), "."))
		}
		for _, key := range section.Keys() {
			path := strings.Split(key.Name(), ".")
			parent := ensureMap(target, path[:len(path)-1])
			parent[path[len(path)-1]] = iniValue(key.String())
		}
	}
	return root, nil
}

func ensureMap(m map[string]any, path []string) map[string]any {
	for _, p := range path {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	return m
}

func iniValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// normalize 统一 yaml 的 map[any]any 和 json.Number
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = normalize(item)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, item := range x {
			m[fmt.Sprint(k)] = normalize(item)
		}
		return m
	case []map[string]any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case []any:
		for i, item := range x {
			x[i] = normalize(item)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	}
	return v
}

// DecoderFor 按扩展名选择解码器
func DecoderFor(path string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JsonDecoder{}, nil
	case ".yaml", ".yml":
		return YamlDecoder{}, nil
	case ".toml":
		return TomlDecoder{}, nil
	case ".ini":
		return IniDecoder{}, nil
	}
	return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
}
