package siirtoclient

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/siirto/pkg/siirtoconfig"
)

func TestConfigRows(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	assert.Assert(t, siirtoconfig.Write(configPath, &siirtoconfig.Config{
		PoolName:        "tank",
		MountRoot:       "/srv/siirto",
		NodeID:          "node-a",
		TransferLogPath: "/var/lib/siirto/transfers.db",
	}) == nil)

	conf, err := siirtoconfig.Read(configPath)
	assert.Assert(t, err == nil)

	assert.EqualString(t, fmt.Sprintf("%v", configRows("config.json", conf)), "["+
		"[file config.json] "+
		"[pool_name tank] "+
		"[mount_root /srv/siirto] "+
		"[node_id node-a] "+
		"[zfs_binary zfs] "+
		"[transfer_log_path /var/lib/siirto/transfers.db] "+
		"[metrics_textfile (disabled)]]")
}
