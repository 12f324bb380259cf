// Node-local configuration
package siirtoconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/siirto/pkg/volume"
	"github.com/function61/siirto/pkg/zfsexec"
)

const (
	defaultPath = "/etc/siirto/config.json"
	pathEnvName = "SIIRTO_CONFIG"
)

type Config struct {
	PoolName        string `json:"pool_name"`                   // example: "siirto"
	MountRoot       string `json:"mount_root"`                  // example: "/srv/siirto"
	NodeID          string `json:"node_id"`                     // owner id of volumes owned by this node
	ZfsBinary       string `json:"zfs_binary,omitempty"`        // defaults to "zfs" from $PATH
	TransferLogPath string `json:"transfer_log_path,omitempty"` // journal disabled if empty
	MetricsTextfile string `json:"metrics_textfile,omitempty"`  // node_exporter textfile, disabled if empty
}

func (c *Config) Binary() string {
	if c.ZfsBinary == "" {
		return zfsexec.DefaultBinary
	}

	return c.ZfsBinary
}

var poolNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.:-]*$`)

func (c *Config) Validate() error {
	if !poolNameRe.MatchString(c.PoolName) {
		return fmt.Errorf("invalid pool_name: %q", c.PoolName)
	}

	if !filepath.IsAbs(c.MountRoot) {
		return fmt.Errorf("mount_root must be absolute; got %q", c.MountRoot)
	}

	if c.NodeID == "" {
		return errors.New("node_id not set")
	}

	if err := volume.ValidateOwnerID(c.NodeID); err != nil {
		return fmt.Errorf("invalid node_id: %q", c.NodeID)
	}

	return nil
}

// $SIIRTO_CONFIG, or /etc/siirto/config.json
func DefaultPath() string {
	if fromEnv := os.Getenv(pathEnvName); fromEnv != "" {
		return fromEnv
	}

	return defaultPath
}

func Read(path string) (*Config, error) {
	conf := &Config{}
	if err := jsonfile.Read(path, conf, true); err != nil {
		return nil, fmt.Errorf("siirto config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("siirto config %s: %w", path, err)
	}

	return conf, nil
}

func Write(path string, conf *Config) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	return jsonfile.Write(path, conf)
}
