package intgen

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/odm/ref"
)

const Namespace = "github.com/hatlonely/odm/uid/intgen"

func init() {
	ref.MustRegister(Namespace, "SequenceGenerator", NewSequenceGeneratorWithOptions)
	ref.MustRegister(Namespace, "RedisGenerator", NewRedisGeneratorWithOptions)
}

// IntGenerator 生成 auto_increment 类型的 id
type IntGenerator interface {
	Generate() (int64, error)
}

func NewIntGeneratorWithOptions(options *ref.TypeOptions) (IntGenerator, error) {
	g, err := ref.Build[IntGenerator](options, Namespace)
	if err != nil {
		return nil, errors.WithMessage(err, "build IntGenerator failed")
	}
	return g, nil
}
