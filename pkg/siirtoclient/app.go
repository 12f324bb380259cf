// CLI for managing volume filesystems on this node and moving them between nodes
package siirtoclient

import (
	"log"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/siirto/pkg/siirtoconfig"
	"github.com/function61/siirto/pkg/siirtometrics"
	"github.com/function61/siirto/pkg/storagepool"
	"github.com/function61/siirto/pkg/transferlog"
	"github.com/function61/siirto/pkg/volume"
	"github.com/function61/siirto/pkg/zfsexec"
	"github.com/spf13/cobra"
)

// everything a command needs, wired from config
type app struct {
	conf    *siirtoconfig.Config
	pool    *storagepool.StoragePool
	metrics *siirtometrics.Metrics
	logl    *logex.Leveled
}

// stdout is reserved for data (send streams, listings), so logs go to stderr
func newRootLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func withApp(configPath string, run func(a *app) error) error {
	conf, err := siirtoconfig.Read(configPath)
	if err != nil {
		return err
	}

	rootLogger := newRootLogger()

	metrics := siirtometrics.New()

	a := newApp(
		conf,
		zfsexec.New(conf.Binary(), metrics, logex.Prefix("zfs", rootLogger)),
		metrics,
		rootLogger)

	runErr := run(a)

	if conf.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(conf.MetricsTextfile); err != nil {
			a.logl.Error.Printf("WriteTextfile: %v", err)
		}
	}

	return runErr
}

func newApp(
	conf *siirtoconfig.Config,
	executor zfsexec.Executor,
	metrics *siirtometrics.Metrics,
	rootLogger *log.Logger,
) *app {
	pool := storagepool.New(executor, conf.PoolName, conf.MountRoot, logex.Prefix("storagepool", rootLogger))

	// each invocation is a service start. remotely owned filesystems are read-only only by
	// inheriting from the root, so its invariants must hold before we touch any volume
	pool.Start()

	return &app{
		conf:    conf,
		pool:    pool,
		metrics: metrics,
		logl:    logex.Levels(logex.Prefix("main", rootLogger)),
	}
}

// owner defaults to this node
func (a *app) volume(serializedName string, owner string) (*volume.Volume, error) {
	name, err := volume.ParseName(serializedName)
	if err != nil {
		return nil, err
	}

	if owner == "" {
		owner = a.conf.NodeID
	}

	if err := volume.ValidateOwnerID(owner); err != nil {
		return nil, err
	}

	return volume.New(owner, name, a.conf.NodeID), nil
}

// nil journal (and nil error) if not configured. remember to Close()
func (a *app) openTransferLog() (*transferlog.Log, error) {
	if a.conf.TransferLogPath == "" {
		return nil, nil
	}

	return transferlog.Open(a.conf.TransferLogPath)
}

func (a *app) recordTransfer(entry *transferlog.Entry) {
	tlog, err := a.openTransferLog()
	if err != nil {
		a.logl.Error.Printf("openTransferLog: %v", err)
		return
	}

	if tlog == nil {
		return
	}
	defer tlog.Close()

	if err := tlog.Append(entry); err != nil {
		a.logl.Error.Printf("transfer log Append: %v", err)
	}
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	*configPath = siirtoconfig.DefaultPath()

	cmd.Flags().StringVarP(configPath, "config", "c", *configPath, "Path to config file (env: SIIRTO_CONFIG)")
}
