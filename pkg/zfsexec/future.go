package zfsexec

// result of a buffered command that resolves when the child process exits
type Future struct {
	done   chan struct{}
	output []byte
	err    error
}

func newFuture() *Future {
	return &Future{
		done: make(chan struct{}),
	}
}

// already-completed future. mainly useful for test doubles
func Resolved(output []byte, err error) *Future {
	f := newFuture()
	f.resolve(output, err)
	return f
}

func (f *Future) resolve(output []byte, err error) {
	f.output = output
	f.err = err
	close(f.done)
}

// closed when the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// blocks until the child process exits. stdout on success
func (f *Future) Wait() ([]byte, error) {
	<-f.done
	return f.output, f.err
}
