package metacache

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
)

type Serializer[T any] interface {
	Serialize(from T) ([]byte, error)
	Deserialize(to []byte) (T, error)
}

type JSONSerializer[T any] struct{}

func (JSONSerializer[T]) Serialize(from T) ([]byte, error) {
	return json.Marshal(from)
}

func (JSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	err := json.Unmarshal(to, &result)
	return result, err
}

type MsgPackSerializer[T any] struct{}

func (MsgPackSerializer[T]) Serialize(from T) ([]byte, error) {
	return msgpack.Marshal(from)
}

func (MsgPackSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	err := msgpack.Unmarshal(to, &result)
	return result, err
}

// BSONSerializer T 必须是结构体或者 map
type BSONSerializer[T any] struct{}

func (BSONSerializer[T]) Serialize(from T) ([]byte, error) {
	return bson.Marshal(from)
}

func (BSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	err := bson.Unmarshal(to, &result)
	return result, err
}

// NewSerializer format 可选 json, msgpack, bson，为空时使用 msgpack
func NewSerializer[T any](format string) (Serializer[T], error) {
	switch format {
	case "", "msgpack":
		return MsgPackSerializer[T]{}, nil
	case "json":
		return JSONSerializer[T]{}, nil
	case "bson":
		return BSONSerializer[T]{}, nil
	}
	return nil, errors.Errorf("unsupported serializer %q", format)
}
