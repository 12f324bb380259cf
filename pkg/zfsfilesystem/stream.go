package zfsfilesystem

import (
	"io"

	"github.com/function61/siirto/pkg/snapshot"
	"github.com/function61/siirto/pkg/zfsexec"
)

type SendResult struct {
	Snapshot snapshot.Snapshot  // taken for this send, the state the stream brings the receiver to
	Basis    *snapshot.Snapshot // nil for a full stream
}

func (s SendResult) Incremental() bool {
	return s.Basis != nil
}

// Takes a fresh snapshot and streams it to consume(). remoteSnapshots (oldest to newest, can
// be nil) are what the receiving side has: if we share one of them, the stream is an
// incremental one from the latest shared snapshot.
//
// The send process is closed & reaped when consume() returns, even if it fails or panics.
// Blocks for the duration of the transfer.
func (f *Filesystem) Reader(
	remoteSnapshots []snapshot.Snapshot,
	consume func(stream io.Reader) error,
) (*SendResult, error) {
	// consistency point for the transfer. later writes to the dataset don't end up in the stream
	snap := snapshot.New(snapshot.RandomName())
	if err := f.CreateSnapshot(snap); err != nil {
		return nil, err
	}

	localSnapshots, err := f.listSnapshots()
	if err != nil {
		return nil, err
	}

	result := &SendResult{Snapshot: snap}

	args := []string{"send"}
	if basis, found := snapshot.LatestCommon(localSnapshots, remoteSnapshots); found {
		result.Basis = &basis
		args = append(args, "-i", basis.Of(f.FullName()))
	}
	args = append(args, snap.Of(f.FullName()))

	stream, err := f.executor.OpenReader(args...)
	if err != nil {
		return nil, err
	}

	if err := useAndClose(stream, func() error { return consume(stream) }); err != nil {
		return nil, err
	}

	return result, nil
}

// Receives a stream written by produce(). Whether the stream is expected to be full or
// incremental is decided by our ReceiveModeDecider, and the decision is returned so callers
// can tell what kind of transfer took place. Blocks for the duration of the transfer.
//
// On success the mountpoint is reasserted, because receive can reset it.
func (f *Filesystem) Writer(produce func(stream io.Writer) error) (ReceiveMode, error) {
	mode, err := f.receiveMode.Decide(f)
	if err != nil {
		return mode, err
	}

	args := []string{"receive"}
	if mode == ReceiveIncremental {
		// streams based on not-quite-the-latest snapshot need our newer snapshots discarded
		args = append(args, "-F")
	}
	args = append(args, f.FullName())

	stream, err := f.executor.OpenWriter(args...)
	if err != nil {
		return mode, err
	}

	if err := useAndClose(stream, func() error { return produce(stream) }); err != nil {
		return mode, err
	}

	_, err = zfsexec.Run(f.executor, "set", "mountpoint="+f.mountPath, f.FullName())
	return mode, err
}

// close happens on every exit path, including panics. when use() fails its error wins
// over the close error (which then usually is just a consequence, like SIGPIPE)
func useAndClose(pipe io.Closer, use func() error) (err error) {
	defer func() {
		if closeErr := pipe.Close(); err == nil {
			err = closeErr
		}
	}()

	return use()
}
