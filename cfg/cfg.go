package cfg

import (
	"os"

	"github.com/pkg/errors"
)

// Load 读取配置文件并填充 object，格式由扩展名决定（json/yaml/yml/toml/ini）
// 转换后设置 def 默认值，再按 validate tag 校验
func Load(path string, object any) error {
	node, err := LoadNode(path)
	if err != nil {
		return err
	}
	return node.ConvertTo(object)
}

func LoadNode(path string) (*Node, error) {
	decoder, err := DecoderFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s failed", path)
	}
	v, err := decoder.Decode(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "decode %s failed", path)
	}
	return NewNode(v), nil
}

// Decode 用指定的解码器解析内容
func Decode(decoder Decoder, data []byte, object any) error {
	v, err := decoder.Decode(data)
	if err != nil {
		return err
	}
	return NewNode(v).ConvertTo(object)
}
