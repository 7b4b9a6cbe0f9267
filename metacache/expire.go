package metacache

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

var errExpired = errors.New("key expired")

// 持久化存储的值前 8 字节是过期时间的 unix 纳秒，0 表示永不过期
func encodeEntry(now time.Time, value []byte, ttl time.Duration) []byte {
	var deadline int64
	if ttl > 0 {
		deadline = now.Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(deadline))
	copy(buf[8:], value)
	return buf
}

// decodeEntry 返回的切片和 buf 共享内存
func decodeEntry(now time.Time, buf []byte) ([]byte, error) {
	if len(buf) < 8 {
		return nil, ErrKeyNotFound
	}
	deadline := int64(binary.BigEndian.Uint64(buf))
	if deadline != 0 && now.UnixNano() >= deadline {
		return nil, errExpired
	}
	return buf[8:], nil
}
