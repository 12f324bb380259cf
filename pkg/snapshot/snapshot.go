// Point-in-time snapshots of a dataset, and picking an incremental transfer basis
package snapshot

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/function61/gokit/cryptorandombytes"
)

// identity & equality is by name only, so this is usable as a map key
type Snapshot struct {
	Name string
}

func New(name string) Snapshot {
	return Snapshot{Name: name}
}

func (s Snapshot) String() string {
	return s.Name
}

// full name as understood by zfs, e.g. "tank/abc.db@1f00..."
func (s Snapshot) Of(datasetFullName string) string {
	return datasetFullName + "@" + s.Name
}

// unique token for snapshots we take ourselves
func RandomName() string {
	return cryptorandombytes.Hex(8)
}

// both histories ordered oldest to newest. walks local from the newest end and returns the
// first one remote also has. second return is false when there is nothing in common
func LatestCommon(local []Snapshot, remote []Snapshot) (Snapshot, bool) {
	remoteSet := make(map[Snapshot]struct{}, len(remote))
	for _, snap := range remote {
		remoteSet[snap] = struct{}{}
	}

	for i := len(local) - 1; i >= 0; i-- {
		if _, inRemote := remoteSet[local[i]]; inRemote {
			return local[i], true
		}
	}

	return Snapshot{}, false
}

// zfs arguments that list snapshots of datasetFullName, ordered by creation
func ListCommand(datasetFullName string) []string {
	return []string{
		"list",
		"-H", // no header
		"-r", // recurse to datasets beneath (output is filtered in ParseListing())
		"-t", "snapshot",
		"-o", "name",
		"-s", "creation",
		datasetFullName,
	}
}

// parses output of ListCommand(). lines for other datasets (children, siblings) are dropped.
// ordering of the output is preserved
func ParseListing(output []byte, datasetFullName string) []Snapshot {
	snapshots := []Snapshot{}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		dataset, name, found := strings.Cut(scanner.Text(), "@")
		if !found || dataset != datasetFullName {
			continue
		}

		snapshots = append(snapshots, New(name))
	}

	return snapshots
}
