// Which paths currently have something mounted on them, from the kernel's mount table
package mountinfo

import (
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
)

type Table struct {
	mounts []*procfs.Mount
}

func Current() (*Table, error) {
	procSelf, err := procfs.Self()
	if err != nil {
		return nil, err
	}

	mounts, err := procSelf.MountStats()
	if err != nil {
		return nil, err
	}

	return NewTable(mounts), nil
}

func NewTable(mounts []*procfs.Mount) *Table {
	return &Table{mounts}
}

// mounted exactly at path
func (t *Table) IsMountPoint(path string) bool {
	path = filepath.Clean(path)

	for _, mount := range t.mounts {
		if mount.Mount == path {
			return true
		}
	}

	return false
}

// the mount that path lives in (longest matching mount point), nil if none
func (t *Table) MountFor(path string) *procfs.Mount {
	path = filepath.Clean(path)

	var longestMatchingMount *procfs.Mount

	for _, mount := range t.mounts {
		if !isWithin(path, mount.Mount) {
			continue
		}

		if longestMatchingMount == nil || len(mount.Mount) > len(longestMatchingMount.Mount) {
			longestMatchingMount = mount
		}
	}

	return longestMatchingMount
}

// "/home2" is not within "/home"
func isWithin(path string, mountPoint string) bool {
	if mountPoint == "/" {
		return strings.HasPrefix(path, "/")
	}

	return path == mountPoint || strings.HasPrefix(path, mountPoint+"/")
}
