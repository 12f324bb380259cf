// A single ZFS dataset: existence, snapshots and streaming send/receive.
//
// A Filesystem is only a descriptor. The truth lives in zfs, so every read re-queries it.
package zfsfilesystem

import (
	"errors"

	"github.com/function61/siirto/pkg/snapshot"
	"github.com/function61/siirto/pkg/zfsexec"
)

// identity of a filesystem. Dataset is empty for the pool's root dataset
type ID struct {
	Pool    string
	Dataset string
}

// "tank" for the root, "tank/abc.default.db" otherwise
func (i ID) FullName() string {
	if i.IsRoot() {
		return i.Pool
	}

	return i.Pool + "/" + i.Dataset
}

func (i ID) IsRoot() bool {
	return i.Dataset == ""
}

func (i ID) String() string {
	return i.FullName()
}

type Filesystem struct {
	ID
	mountPath   string
	executor    zfsexec.Executor
	receiveMode ReceiveModeDecider
}

func New(executor zfsexec.Executor, pool string, dataset string, mountPath string) *Filesystem {
	return &Filesystem{
		ID:          ID{Pool: pool, Dataset: dataset},
		mountPath:   mountPath,
		executor:    executor,
		receiveMode: ExistenceDecider,
	}
}

// replaces how Writer() decides between a full and an incremental receive
func (f *Filesystem) WithReceiveModeDecider(decider ReceiveModeDecider) *Filesystem {
	copied := *f
	copied.receiveMode = decider
	return &copied
}

// mount path is not part of identity
func (f *Filesystem) Equal(other *Filesystem) bool {
	return f.ID == other.ID
}

func (f *Filesystem) Path() string {
	return f.mountPath
}

func (f *Filesystem) Exists() (bool, error) {
	_, err := zfsexec.Run(f.executor, "list", f.FullName())
	if err == nil {
		return true, nil
	}

	if exitedNonZero(err) {
		return false, nil
	}

	return false, err
}

// ordered oldest to newest. non-existent filesystem has no snapshots
func (f *Filesystem) Snapshots() ([]snapshot.Snapshot, error) {
	exists, err := f.Exists()
	if err != nil {
		return nil, err
	}

	if !exists {
		return []snapshot.Snapshot{}, nil
	}

	return f.listSnapshots()
}

func (f *Filesystem) CreateSnapshot(snap snapshot.Snapshot) error {
	_, err := zfsexec.Run(f.executor, "snapshot", snap.Of(f.FullName()))
	return err
}

func (f *Filesystem) listSnapshots() ([]snapshot.Snapshot, error) {
	output, err := zfsexec.Run(f.executor, snapshot.ListCommand(f.FullName())...)
	if err != nil {
		return nil, err
	}

	return snapshot.ParseListing(output, f.FullName()), nil
}

// "list" exiting with any status means the dataset is not there. not being able to run
// the command at all (or it getting killed) is a real error
func exitedNonZero(err error) bool {
	if errors.Is(err, zfsexec.ErrCommandFailed) || errors.Is(err, zfsexec.ErrBadArguments) {
		return true
	}

	var procErr *zfsexec.ProcessError
	return errors.As(err, &procErr) && procErr.ExitCode > 0
}
