// Journal of completed send/receive transfers, so an operator can see which snapshot each
// filesystem was last brought to and verify stream digests between hosts.
package transferlog

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

var transfersBucket = []byte("transfers")

type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

type Entry struct {
	ID         uint64    `json:"id"`
	Time       time.Time `json:"time"`
	Direction  Direction `json:"direction"`
	Filesystem string    `json:"filesystem"`
	Snapshot   string    `json:"snapshot,omitempty"` // only known by the sending side
	Basis      string    `json:"basis,omitempty"`    // empty for full streams
	Bytes      int64     `json:"bytes"`
	Sha256     string    `json:"sha256"`
}

type Log struct {
	db *bbolt.DB
}

func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transfersBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Log{db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// assigns ID (monotonic), and Time if not set
func (l *Log) Append(entry *Entry) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(transfersBucket)

		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		entry.ID = id
		if entry.Time.IsZero() {
			entry.Time = time.Now().UTC()
		}

		serialized, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return bucket.Put(idToKey(id), serialized)
	})
}

// oldest first. empty filesystem means all of them
func (l *Log) List(filesystem string) ([]Entry, error) {
	entries := []Entry{}

	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(transfersBucket).ForEach(func(_, value []byte) error {
			entry := Entry{}
			if err := json.Unmarshal(value, &entry); err != nil {
				return err
			}

			if filesystem == "" || entry.Filesystem == filesystem {
				entries = append(entries, entry)
			}

			return nil
		})
	})

	return entries, err
}

// big endian so that bbolt's byte-ordered iteration is in insertion order
func idToKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
