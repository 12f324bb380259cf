// ZFS storage pool holding one filesystem per volume.
//
// Remotely owned filesystems are read-only to prevent divergence (which would break
// incremental receives). The pool's root dataset is readonly=on, which children inherit,
// and locally owned filesystems override it with an explicit readonly=off.
package storagepool

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/siirto/pkg/snapshot"
	"github.com/function61/siirto/pkg/volume"
	"github.com/function61/siirto/pkg/zfsexec"
	"github.com/function61/siirto/pkg/zfsfilesystem"
	"github.com/samber/lo"
)

var ErrFilesystemAlreadyExists = errors.New("filesystem already exists")

type StoragePool struct {
	name      string
	mountRoot string
	executor  zfsexec.Executor
	logl      *logex.Leveled
}

// mountRoot is the directory under which each filesystem gets mounted
func New(executor zfsexec.Executor, name string, mountRoot string, logger *log.Logger) *StoragePool {
	return &StoragePool{
		name:      name,
		mountRoot: mountRoot,
		executor:  executor,
		logl:      logex.Levels(logex.NonNil(logger)),
	}
}

func (s *StoragePool) Name() string {
	return s.name
}

// Asserts the root dataset's invariants: it holds no data & is only a namespace. Safe to call
// repeatedly, and failures are only logged so we won't block startup on an invariant that
// possibly already holds.
func (s *StoragePool) Start() {
	s.executor.RunBestEffort("set", "readonly=on", s.name)

	// a read-only root can't host mountpoint directories for its children, so don't mount it
	s.executor.RunBestEffort("set", "canmount=off", s.name)
}

// No I/O, just computes where the volume's filesystem lives
func (s *StoragePool) Get(vol volume.Identity) *zfsfilesystem.Filesystem {
	dataset := volume.DatasetName(vol)

	return zfsfilesystem.New(s.executor, s.name, dataset, filepath.Join(s.mountRoot, dataset))
}

func (s *StoragePool) Create(vol volume.Identity) (*zfsfilesystem.Filesystem, error) {
	if err := validateOwners(vol); err != nil {
		return nil, err
	}

	fs := s.Get(vol)

	args := []string{"create", "-o", "mountpoint=" + fs.Path()}
	if vol.LocallyOwned() {
		args = append(args, "-o", "readonly=off")
	}
	args = append(args, fs.FullName())

	if _, err := zfsexec.Run(s.executor, args...); err != nil {
		return nil, alreadyExistsOnCommandFailed(fs, err)
	}

	s.logl.Info.Printf("created %s", fs.FullName())

	return fs, nil
}

// copy-on-write clone of parent's current state, via an ephemeral snapshot
func (s *StoragePool) CloneTo(parent volume.Identity, vol volume.Identity) (*zfsfilesystem.Filesystem, error) {
	if err := validateOwners(parent, vol); err != nil {
		return nil, err
	}

	parentFs := s.Get(parent)
	fs := s.Get(vol)

	snap := snapshot.New(snapshot.RandomName())
	if err := parentFs.CreateSnapshot(snap); err != nil {
		return nil, err
	}

	if _, err := zfsexec.Run(s.executor, "clone", snap.Of(parentFs.FullName()), fs.FullName()); err != nil {
		return nil, alreadyExistsOnCommandFailed(fs, err)
	}

	if err := s.normalize(vol, fs); err != nil {
		return nil, err
	}

	s.logl.Info.Printf("cloned %s from %s", fs.FullName(), snap.Of(parentFs.FullName()))

	return fs, nil
}

// moves the filesystem of vol to newVol's identity (= usually same volume with other owner)
func (s *StoragePool) ChangeOwner(vol volume.Identity, newVol volume.Identity) (*zfsfilesystem.Filesystem, error) {
	if err := validateOwners(vol, newVol); err != nil {
		return nil, err
	}

	oldFs := s.Get(vol)
	fs := s.Get(newVol)

	if _, err := zfsexec.Run(s.executor, "rename", oldFs.FullName(), fs.FullName()); err != nil {
		return nil, alreadyExistsOnCommandFailed(fs, err)
	}

	if err := s.normalize(newVol, fs); err != nil {
		return nil, err
	}

	// rename remounted the filesystem at its new path, leaving behind an empty directory.
	// not recursive: if it's not empty something is writing there and we don't want to lose data
	if err := os.Remove(oldFs.Path()); err != nil {
		return nil, fmt.Errorf("removing old mount directory: %w", err)
	}

	s.logl.Info.Printf("changed owner %s -> %s", oldFs.FullName(), fs.FullName())

	return fs, nil
}

// readonly & mountpoint after a filesystem came to be by other means than "create".
// no rollback if the latter fails
func (s *StoragePool) normalize(vol volume.Identity, fs *zfsfilesystem.Filesystem) error {
	if vol.LocallyOwned() {
		if _, err := zfsexec.Run(s.executor, "set", "readonly=off", fs.FullName()); err != nil {
			return err
		}
	} else {
		// inherit (instead of readonly=on) to follow possible pool-level changes later on
		if _, err := zfsexec.Run(s.executor, "inherit", "readonly", fs.FullName()); err != nil {
			return err
		}
	}

	_, err := zfsexec.Run(s.executor, "set", "mountpoint="+fs.Path(), fs.FullName())
	return err
}

// direct children of the pool's root dataset
func (s *StoragePool) Enumerate() (FilesystemSet, error) {
	output, err := zfsexec.Run(s.executor, "list", "-d", "1", "-H", "-o", "name,mountpoint", s.name)
	if err != nil {
		return nil, err
	}

	entries, err := parseFilesystemListing(output, s.name)
	if err != nil {
		return nil, err
	}

	set := FilesystemSet{}
	for _, entry := range entries {
		fs := zfsfilesystem.New(s.executor, s.name, entry.dataset, entry.mountpoint)
		set[fs.ID] = fs
	}

	return set, nil
}

type FilesystemSet map[zfsfilesystem.ID]*zfsfilesystem.Filesystem

func (f FilesystemSet) Contains(fs *zfsfilesystem.Filesystem) bool {
	_, contains := f[fs.ID]
	return contains
}

// ordered by name
func (f FilesystemSet) Sorted() []*zfsfilesystem.Filesystem {
	filesystems := lo.Values(f)

	sort.Slice(filesystems, func(i, j int) bool {
		return filesystems[i].FullName() < filesystems[j].FullName()
	})

	return filesystems
}

type listingEntry struct {
	dataset    string
	mountpoint string
}

// "<pool>/<dataset>\t<mountpoint>" lines. the pool's root dataset itself is skipped
func parseFilesystemListing(output []byte, pool string) ([]listingEntry, error) {
	entries := []listingEntry{}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		name, mountpoint, found := strings.Cut(scanner.Text(), "\t")
		if !found {
			return nil, fmt.Errorf("unexpected zfs list line: %q", scanner.Text())
		}

		dataset := strings.TrimPrefix(name, pool+"/")
		if dataset == name { // the root (or something that isn't ours)
			continue
		}

		entries = append(entries, listingEntry{dataset, mountpoint})
	}

	return entries, scanner.Err()
}

// creation-style commands exit with 1 when the target exists, but also for other reasons we
// can't tell apart. only to be used at call sites where "exists" is the likely cause
func alreadyExistsOnCommandFailed(fs *zfsfilesystem.Filesystem, err error) error {
	if errors.Is(err, zfsexec.ErrCommandFailed) {
		return fmt.Errorf("%s: %w", fs.FullName(), ErrFilesystemAlreadyExists)
	}

	return err
}

// owner ids end up in dataset names. a bad one would not round-trip through Enumerate()
func validateOwners(vols ...volume.Identity) error {
	for _, vol := range vols {
		if err := volume.ValidateOwnerID(vol.OwnerID()); err != nil {
			return err
		}
	}

	return nil
}
