package siirtoclient

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/siirto/pkg/siirtoconfig"
	"github.com/function61/siirto/pkg/siirtometrics"
	"github.com/function61/siirto/pkg/snapshot"
	"github.com/function61/siirto/pkg/transferlog"
	"github.com/function61/siirto/pkg/volume"
	"github.com/function61/siirto/pkg/zfsexec/zfsexectest"
)

func TestSendAndReceive(t *testing.T) {
	sender, senderSim := newTestApp(t, "node-a")
	receiver, receiverSim := newTestApp(t, "node-b")

	_, err := sender.pool.Create(mustVolume(t, sender, "db", ""))
	assert.Assert(t, err == nil)

	streamPath := filepath.Join(t.TempDir(), "stream")

	// first transfer is a full one
	sendTo(t, sender, streamPath, nil)
	receiveFrom(t, receiver, streamPath)

	assert.Assert(t, receiverSim.Exists("tank/node-a.default.db"))
	assert.EqualString(t, receiverSim.Property("tank/node-a.default.db", "mountpoint"), filepath.Join(receiver.conf.MountRoot, "node-a.default.db"))

	// receiver tells which snapshots it has, like "$ siirto snapshots" output would
	remoteSnapshots := strings.Join(receiverSim.Snapshots("tank/node-a.default.db"), "\n") + "\n"

	sendTo(t, sender, streamPath, parseSnapshotNames(remoteSnapshots, "\n"))
	receiveFrom(t, receiver, streamPath)

	assert.Assert(t, len(senderSim.Snapshots("tank/node-a.default.db")) == 2)
	assert.EqualString(
		t,
		strings.Join(receiverSim.Snapshots("tank/node-a.default.db"), ","),
		strings.Join(senderSim.Snapshots("tank/node-a.default.db"), ","))

	sent, err := history(sender, "tank/node-a.default.db")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(sent) == 2)
	assert.Assert(t, sent[0].Direction == transferlog.DirectionSend)
	assert.EqualString(t, sent[0].Basis, "")
	assert.EqualString(t, sent[1].Basis, sent[0].Snapshot)

	received, err := history(receiver, "")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(received) == 2)
	assert.Assert(t, received[1].Direction == transferlog.DirectionReceive)
	// both ends saw the same bytes
	assert.EqualString(t, received[1].Sha256, sent[1].Sha256)
	assert.Assert(t, received[1].Bytes == sent[1].Bytes)

	metricsText := &bytes.Buffer{}
	assert.Assert(t, receiver.metrics.WriteText(metricsText) == nil)
	assert.Assert(t, strings.Contains(metricsText.String(), `siirto_transfers_total{direction="receive",kind="full"} 1`))
	assert.Assert(t, strings.Contains(metricsText.String(), `siirto_transfers_total{direction="receive",kind="incremental"} 1`))
}

func TestReceiveKindComesFromReceiveMode(t *testing.T) {
	sender, _ := newTestApp(t, "node-a")
	receiver, receiverSim := newTestApp(t, "node-b")

	_, err := sender.pool.Create(mustVolume(t, sender, "db", ""))
	assert.Assert(t, err == nil)

	streamPath := filepath.Join(t.TempDir(), "stream")
	sendTo(t, sender, streamPath, nil)
	receiveFrom(t, receiver, streamPath)

	// the receive mode decision is the only existence check
	assert.EqualString(t, strings.Join(receiverSim.Invocations()[2:], "; "), strings.Join([]string{
		"list tank/node-a.default.db",
		"receive tank/node-a.default.db",
		"set mountpoint=" + filepath.Join(receiver.conf.MountRoot, "node-a.default.db") + " tank/node-a.default.db",
	}, "; "))

	metricsText := &bytes.Buffer{}
	assert.Assert(t, receiver.metrics.WriteText(metricsText) == nil)
	assert.Assert(t, strings.Contains(metricsText.String(), `siirto_transfers_total{direction="receive",kind="full"} 1`))
	assert.Assert(t, !strings.Contains(metricsText.String(), `kind="incremental"`))
}

func TestSendNonexistentVolume(t *testing.T) {
	sender, _ := newTestApp(t, "node-a")

	out, err := os.Create(filepath.Join(t.TempDir(), "stream"))
	assert.Assert(t, err == nil)
	defer out.Close()

	assert.Assert(t, send(sender, "nonexistent", "", nil, out) != nil)

	sent, err := history(sender, "")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(sent) == 0)
}

func TestReceiveGarbage(t *testing.T) {
	receiver, receiverSim := newTestApp(t, "node-b")

	err := receive(receiver, "db", "node-a", strings.NewReader("definitely not a stream"))
	assert.Assert(t, err != nil)

	assert.Assert(t, !receiverSim.Exists("tank/node-a.default.db"))
}

func TestHistoryWithoutTransferLog(t *testing.T) {
	a, _ := newTestApp(t, "node-a")
	a.conf.TransferLogPath = ""

	_, err := history(a, "")
	assert.EqualString(t, err.Error(), "transfer log not enabled (transfer_log_path in config)")
}

func TestParseSnapshotNames(t *testing.T) {
	serialize := func(snaps []snapshot.Snapshot) string {
		names := []string{}
		for _, snap := range snaps {
			names = append(names, snap.Name)
		}
		return strings.Join(names, "|")
	}

	assert.EqualString(t, serialize(parseSnapshotNames("", ",")), "")
	assert.EqualString(t, serialize(parseSnapshotNames("a,b,,c", ",")), "a|b|c")
	assert.EqualString(t, serialize(parseSnapshotNames("a\n b \n\n", "\n")), "a|b")
}

func newTestApp(t *testing.T, nodeID string) (*app, *zfsexectest.Simulator) {
	t.Helper()

	sim := zfsexectest.NewSimulator("tank")

	conf := &siirtoconfig.Config{
		PoolName:        "tank",
		MountRoot:       t.TempDir(),
		NodeID:          nodeID,
		TransferLogPath: filepath.Join(t.TempDir(), "transfers.db"),
	}

	metrics := siirtometrics.New()

	return newApp(conf, sim, metrics, log.New(&bytes.Buffer{}, "", 0)), sim
}

func sendTo(t *testing.T, a *app, streamPath string, remoteSnapshots []snapshot.Snapshot) {
	t.Helper()

	out, err := os.Create(streamPath)
	assert.Assert(t, err == nil)
	defer out.Close()

	assert.Assert(t, send(a, "db", "", remoteSnapshots, out) == nil)
}

func receiveFrom(t *testing.T, a *app, streamPath string) {
	t.Helper()

	in, err := os.Open(streamPath)
	assert.Assert(t, err == nil)
	defer in.Close()

	assert.Assert(t, receive(a, "db", "node-a", in) == nil)
}

func mustVolume(t *testing.T, a *app, name string, owner string) *volume.Volume {
	t.Helper()

	vol, err := a.volume(name, owner)
	assert.Assert(t, err == nil)

	return vol
}
