package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBComment struct {
	ID         string `msgpack:"id"`
	Seq        int64  `msgpack:"seq"`
	TaskID     string `msgpack:"taskId"`
	AuthorID   string `msgpack:"authorId"`
	AuthorName string `msgpack:"authorName"`
	Content    string `msgpack:"content"`
	ParentID   string `msgpack:"parentId"`
	CreatedAt  int64  `msgpack:"createdAt"` // epoch millis
}

// Key orders comments within a task bucket by sequence number.
func (c *DBComment) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(c.Seq))
	return key
}

func (c *DBComment) MarshalBinary() (data []byte, err error) {
	type alias DBComment
	return msgpack.Marshal((*alias)(c))
}

func (c *DBComment) UnmarshalBinary(data []byte) error {
	type alias DBComment
	return msgpack.Unmarshal(data, (*alias)(c))
}
