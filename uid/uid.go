package uid

import (
	"github.com/hatlonely/odm/ref"
	"github.com/hatlonely/odm/uid/intgen"
	"github.com/hatlonely/odm/uid/strgen"
)

func NewIntGeneratorWithOptions(options *ref.TypeOptions) (intgen.IntGenerator, error) {
	return intgen.NewIntGeneratorWithOptions(options)
}

func NewStrGeneratorWithOptions(options *ref.TypeOptions) (strgen.StrGenerator, error) {
	return strgen.NewStrGeneratorWithOptions(options)
}
