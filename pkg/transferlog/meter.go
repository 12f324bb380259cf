package transferlog

import (
	"encoding/hex"
	"hash"

	"github.com/minio/sha256-simd"
)

// io.Writer to tee a stream into, for its length and digest
type Meter struct {
	hash  hash.Hash
	bytes int64
}

func NewMeter() *Meter {
	return &Meter{hash: sha256.New()}
}

func (m *Meter) Write(data []byte) (int, error) {
	m.bytes += int64(len(data))
	return m.hash.Write(data)
}

func (m *Meter) Bytes() int64 {
	return m.bytes
}

func (m *Meter) Sha256() string {
	return hex.EncodeToString(m.hash.Sum(nil))
}
