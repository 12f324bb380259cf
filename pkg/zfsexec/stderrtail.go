package zfsexec

import (
	"bytes"
	"container/ring"
	"sync"
)

// io.Writer for a child process's stderr. complete lines are handed to lineCompleted, and
// the last "capacity" lines are retained so they can be attached to an error
type stderrTail struct {
	partial       []byte // bytes after the last \n
	lines         *ring.Ring
	lineCompleted func(string)
	mu            sync.Mutex
}

func newStderrTail(capacity int, lineCompleted func(string)) *stderrTail {
	return &stderrTail{
		lines:         ring.New(capacity),
		lineCompleted: lineCompleted,
	}
}

func (s *stderrTail) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial = append(s.partial, data...)

	for {
		idx := bytes.IndexByte(s.partial, '\n')
		if idx == -1 {
			break
		}

		s.push(string(s.partial[0:idx]))

		s.partial = s.partial[idx+1:]
	}

	return len(data), nil
}

// trailing line without \n counts too, as the process is gone by the time we ask
func (s *stderrTail) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := []string{}

	s.lines.Do(func(val interface{}) {
		if val != nil {
			ret = append(ret, val.(string))
		}
	})

	if len(s.partial) > 0 {
		ret = append(ret, string(s.partial))
	}

	return ret
}

func (s *stderrTail) push(line string) {
	if s.lineCompleted != nil {
		s.lineCompleted(line)
	}

	s.lines.Value = line
	s.lines = s.lines.Next()
}
