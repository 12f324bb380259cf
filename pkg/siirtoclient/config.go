package siirtoclient

import (
	"errors"
	"fmt"
	"os"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/osutil"
	"github.com/function61/siirto/pkg/siirtoconfig"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func configInitEntrypoint() *cobra.Command {
	configPath := ""
	transferLogPath := ""

	cmd := &cobra.Command{
		Use:   "config-init [poolName] [mountRoot] [nodeId]",
		Short: "Initialize configuration",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			exists, err := fileexists.Exists(configPath)
			osutil.ExitIfError(err)

			if exists {
				osutil.ExitIfError(errors.New("config file already exists"))
			}

			osutil.ExitIfError(siirtoconfig.Write(configPath, &siirtoconfig.Config{
				PoolName:        args[0],
				MountRoot:       args[1],
				NodeID:          args[2],
				TransferLogPath: transferLogPath,
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&transferLogPath, "transfer-log", "t", transferLogPath, "Path to transfer journal database (optional)")

	return cmd
}

func configPrintEntrypoint() *cobra.Command {
	configPath := ""

	cmd := &cobra.Command{
		Use:   "config-print",
		Short: "Validates the config file & prints the effective configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exists, err := fileexists.Exists(configPath)
			osutil.ExitIfError(err)

			if !exists {
				osutil.ExitIfError(fmt.Errorf("%s does not exist. To configure, run:\n    $ %s config-init", configPath, os.Args[0]))
			}

			conf, err := siirtoconfig.Read(configPath)
			osutil.ExitIfError(err)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Setting", "Value"})
			table.AppendBulk(configRows(configPath, conf))
			table.Render()
		},
	}

	addConfigFlag(cmd, &configPath)

	return cmd
}

// defaults spelled out, so the output shows what commands will actually use
func configRows(configPath string, conf *siirtoconfig.Config) [][]string {
	orDisabled := func(value string) string {
		if value == "" {
			return "(disabled)"
		}

		return value
	}

	return [][]string{
		{"file", configPath},
		{"pool_name", conf.PoolName},
		{"mount_root", conf.MountRoot},
		{"node_id", conf.NodeID},
		{"zfs_binary", conf.Binary()},
		{"transfer_log_path", orDisabled(conf.TransferLogPath)},
		{"metrics_textfile", orDisabled(conf.MetricsTextfile)},
	}
}
