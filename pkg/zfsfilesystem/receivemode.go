package zfsfilesystem

type ReceiveMode int

const (
	ReceiveFull ReceiveMode = iota
	ReceiveIncremental
)

func (r ReceiveMode) String() string {
	switch r {
	case ReceiveFull:
		return "full"
	case ReceiveIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// decides whether an incoming stream is to be received as a full or an incremental one.
// a stream header would be a stronger signal than what ExistenceDecider does
type ReceiveModeDecider interface {
	Decide(fs *Filesystem) (ReceiveMode, error)
}

type ReceiveModeDeciderFunc func(fs *Filesystem) (ReceiveMode, error)

func (r ReceiveModeDeciderFunc) Decide(fs *Filesystem) (ReceiveMode, error) {
	return r(fs)
}

// existing dataset => stream must be incremental. a full stream to an existing dataset (or
// vice versa) is a caller bug we don't detect
var ExistenceDecider ReceiveModeDecider = ReceiveModeDeciderFunc(func(fs *Filesystem) (ReceiveMode, error) {
	exists, err := fs.Exists()
	if err != nil {
		return ReceiveFull, err
	}

	if exists {
		return ReceiveIncremental, nil
	}

	return ReceiveFull, nil
})
