package storagepool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/siirto/pkg/volume"
	"github.com/function61/siirto/pkg/zfsexec"
	"github.com/function61/siirto/pkg/zfsexec/zfsexectest"
)

const (
	localNode  = "node-a"
	remoteNode = "node-b"
)

var (
	dbName    = volume.Name{Namespace: "default", ID: "db"}
	cacheName = volume.Name{Namespace: "default", ID: "cache"}
)

func TestStartIsIdempotent(t *testing.T) {
	sim, pool := newTestPool(t)

	pool.Start()
	assert.EqualString(t, sim.Property("tank", "readonly"), "on")
	assert.EqualString(t, sim.Property("tank", "canmount"), "off")

	pool.Start()
	assert.EqualString(t, sim.Property("tank", "readonly"), "on")
	assert.EqualString(t, sim.Property("tank", "canmount"), "off")

	assert.EqualString(t, strings.Join(sim.Invocations(), "; "), strings.Join([]string{
		"set readonly=on tank",
		"set canmount=off tank",
		"set readonly=on tank",
		"set canmount=off tank",
	}, "; "))
}

func TestStartSwallowsFailures(t *testing.T) {
	sim, pool := newTestPool(t)
	sim.FailWhen(zfsexectest.Subcommand("set"), fmt.Errorf("set: %w", zfsexec.ErrCommandFailed))

	pool.Start() // must not panic or block

	assert.Assert(t, len(sim.Invocations()) == 2)
}

func TestCreateLocallyOwned(t *testing.T) {
	sim, pool := newStartedTestPool(t)

	fs, err := pool.Create(volume.New(localNode, dbName, localNode))
	assert.Assert(t, err == nil)
	assert.EqualString(t, fs.FullName(), "tank/node-a.default.db")
	assert.EqualString(t, fs.Path(), filepath.Join(pool.mountRoot, "node-a.default.db"))

	assert.EqualString(t, sim.Property(fs.FullName(), "readonly"), "off")
	assert.Assert(t, sim.PropertyIsLocal(fs.FullName(), "readonly"))
	assert.EqualString(t, sim.Property(fs.FullName(), "mountpoint"), fs.Path())
}

func TestCreateRemotelyOwned(t *testing.T) {
	sim, pool := newStartedTestPool(t)

	fs, err := pool.Create(volume.New(remoteNode, dbName, localNode))
	assert.Assert(t, err == nil)

	assert.EqualString(t, sim.Property(fs.FullName(), "readonly"), "on")
	assert.Assert(t, !sim.PropertyIsLocal(fs.FullName(), "readonly"))
}

func TestCreateAlreadyExists(t *testing.T) {
	_, pool := newStartedTestPool(t)

	vol := volume.New(localNode, dbName, localNode)

	_, err := pool.Create(vol)
	assert.Assert(t, err == nil)

	_, err = pool.Create(vol)
	assert.Assert(t, errors.Is(err, ErrFilesystemAlreadyExists))
	assert.Assert(t, !errors.Is(err, zfsexec.ErrCommandFailed))
	assert.EqualString(t, err.Error(), "tank/node-a.default.db: filesystem already exists")
}

func TestCreateOtherFailuresPropagate(t *testing.T) {
	sim, pool := newStartedTestPool(t)
	sim.FailWhen(zfsexectest.Subcommand("create"), fmt.Errorf("create: %w", zfsexec.ErrBadArguments))

	_, err := pool.Create(volume.New(localNode, dbName, localNode))
	assert.Assert(t, errors.Is(err, zfsexec.ErrBadArguments))
	assert.Assert(t, !errors.Is(err, ErrFilesystemAlreadyExists))
}

func TestEnumerateRoundTrip(t *testing.T) {
	_, pool := newStartedTestPool(t)

	db := volume.New(localNode, dbName, localNode)
	cache := volume.New(remoteNode, cacheName, localNode)

	for _, vol := range []*volume.Volume{db, cache} {
		_, err := pool.Create(vol)
		assert.Assert(t, err == nil)
	}

	filesystems, err := pool.Enumerate()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(filesystems) == 2)
	assert.Assert(t, filesystems.Contains(pool.Get(db)))
	assert.Assert(t, filesystems.Contains(pool.Get(cache)))

	sorted := filesystems.Sorted()
	assert.EqualString(t, sorted[0].Dataset, "node-a.default.db")
	assert.EqualString(t, sorted[0].Path(), pool.Get(db).Path())
	assert.EqualString(t, sorted[1].Dataset, "node-b.default.cache")
}

func TestCloneTo(t *testing.T) {
	sim, pool := newStartedTestPool(t)

	parent := volume.New(localNode, dbName, localNode)
	clone := volume.New(remoteNode, cacheName, localNode)

	parentFs, err := pool.Create(parent)
	assert.Assert(t, err == nil)

	fs, err := pool.CloneTo(parent, clone)
	assert.Assert(t, err == nil)
	assert.EqualString(t, fs.FullName(), "tank/node-b.default.cache")

	assert.Assert(t, len(sim.Snapshots(parentFs.FullName())) == 1)
	assert.EqualString(t, sim.Property(fs.FullName(), "readonly"), "on")
	assert.Assert(t, !sim.PropertyIsLocal(fs.FullName(), "readonly"))
	assert.EqualString(t, sim.Property(fs.FullName(), "mountpoint"), fs.Path())

	_, err = pool.CloneTo(parent, clone)
	assert.Assert(t, errors.Is(err, ErrFilesystemAlreadyExists))
}

func TestCloneToNormalizationFailureIsNotReinterpreted(t *testing.T) {
	sim, pool := newStartedTestPool(t)
	sim.FailWhen(zfsexectest.Subcommand("inherit"), fmt.Errorf("inherit: %w", zfsexec.ErrCommandFailed))

	parent := volume.New(localNode, dbName, localNode)

	_, err := pool.Create(parent)
	assert.Assert(t, err == nil)

	_, err = pool.CloneTo(parent, volume.New(remoteNode, cacheName, localNode))
	assert.Assert(t, errors.Is(err, zfsexec.ErrCommandFailed))
	assert.Assert(t, !errors.Is(err, ErrFilesystemAlreadyExists))
}

func TestChangeOwner(t *testing.T) {
	sim, pool := newStartedTestPool(t)

	vol := volume.New(localNode, dbName, localNode)

	oldFs, err := pool.Create(vol)
	assert.Assert(t, err == nil)
	assert.Assert(t, os.Mkdir(oldFs.Path(), 0700) == nil) // stands in for the mount leftover

	fs, err := pool.ChangeOwner(vol, vol.WithOwner(remoteNode))
	assert.Assert(t, err == nil)
	assert.EqualString(t, fs.FullName(), "tank/node-b.default.db")

	assert.Assert(t, !sim.Exists(oldFs.FullName()))
	assert.Assert(t, sim.Exists(fs.FullName()))
	assert.EqualString(t, sim.Property(fs.FullName(), "readonly"), "on")
	assert.EqualString(t, sim.Property(fs.FullName(), "mountpoint"), fs.Path())

	_, err = os.Stat(oldFs.Path())
	assert.Assert(t, os.IsNotExist(err))
}

func TestChangeOwnerFailsLoudlyOnNonEmptyDirectory(t *testing.T) {
	sim, pool := newStartedTestPool(t)

	vol := volume.New(remoteNode, dbName, localNode)

	oldFs, err := pool.Create(vol)
	assert.Assert(t, err == nil)
	assert.Assert(t, os.Mkdir(oldFs.Path(), 0700) == nil)
	assert.Assert(t, os.WriteFile(filepath.Join(oldFs.Path(), "straggler"), []byte("x"), 0600) == nil)

	_, err = pool.ChangeOwner(vol, vol.WithOwner(localNode))
	assert.Assert(t, err != nil)
	assert.Assert(t, strings.HasPrefix(err.Error(), "removing old mount directory: "))

	// rename already happened, no rollback
	assert.Assert(t, sim.Exists("tank/node-a.default.db"))
	assert.EqualString(t, sim.Property("tank/node-a.default.db", "readonly"), "off")
}

func TestChangeOwnerToExisting(t *testing.T) {
	_, pool := newStartedTestPool(t)

	vol := volume.New(localNode, dbName, localNode)
	other := vol.WithOwner(remoteNode)

	for _, v := range []*volume.Volume{vol, other} {
		_, err := pool.Create(v)
		assert.Assert(t, err == nil)
	}

	_, err := pool.ChangeOwner(vol, other)
	assert.Assert(t, errors.Is(err, ErrFilesystemAlreadyExists))
}

func TestOwnerIDsThatWouldBreakDatasetNamesAreRejected(t *testing.T) {
	sim, pool := newStartedTestPool(t)

	vol := volume.New(localNode, dbName, localNode)
	_, err := pool.Create(vol)
	assert.Assert(t, err == nil)

	invocationsBefore := len(sim.Invocations())

	_, err = pool.Create(volume.New("node-b/../x", cacheName, localNode))
	assert.EqualString(t, err.Error(), `invalid owner id: "node-b/../x"`)

	_, err = pool.CloneTo(vol, volume.New("node.b", cacheName, localNode))
	assert.EqualString(t, err.Error(), `invalid owner id: "node.b"`)

	_, err = pool.ChangeOwner(vol, vol.WithOwner("node.b"))
	assert.EqualString(t, err.Error(), `invalid owner id: "node.b"`)

	// rejected before touching zfs
	assert.Assert(t, len(sim.Invocations()) == invocationsBefore)
	assert.Assert(t, sim.Exists("tank/node-a.default.db"))
}

func TestParseFilesystemListing(t *testing.T) {
	entries, err := parseFilesystemListing([]byte("tank\tnone\ntank/a.x\t/srv/a.x\ntank/b.y\t/srv/b.y\n"), "tank")
	assert.Assert(t, err == nil)
	assert.EqualString(t, fmt.Sprintf("%v", entries), "[{a.x /srv/a.x} {b.y /srv/b.y}]")

	_, err = parseFilesystemListing([]byte("tank/a.x /srv/a.x\n"), "tank")
	assert.EqualString(t, err.Error(), `unexpected zfs list line: "tank/a.x /srv/a.x"`)
}

func newTestPool(t *testing.T) (*zfsexectest.Simulator, *StoragePool) {
	sim := zfsexectest.NewSimulator("tank")

	return sim, New(sim, "tank", t.TempDir(), nil)
}

func newStartedTestPool(t *testing.T) (*zfsexectest.Simulator, *StoragePool) {
	sim, pool := newTestPool(t)
	pool.Start()
	return sim, pool
}
