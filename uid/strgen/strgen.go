package strgen

import "github.com/hatlonely/odm/ref"

const Namespace = "github.com/hatlonely/odm/uid/strgen"

func init() {
	ref.MustRegister(Namespace, "UUIDGenerator", NewUUIDGeneratorWithOptions)
	ref.MustRegister(Namespace, "ULIDGenerator", NewULIDGenerator)
}

// StrGenerator 生成字符串 id
type StrGenerator interface {
	Generate() string
}

func NewStrGeneratorWithOptions(options *ref.TypeOptions) (StrGenerator, error) {
	return ref.Build[StrGenerator](options, Namespace)
}
