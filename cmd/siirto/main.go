package main

import (
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/osutil"
	"github.com/function61/siirto/pkg/siirtoclient"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Moves ZFS volume filesystems between nodes: snapshots, send/receive streams & ownership",
		Version: dynversion.Version,
	}

	for _, entrypoint := range siirtoclient.Entrypoints() {
		rootCmd.AddCommand(entrypoint)
	}

	osutil.ExitIfError(rootCmd.Execute())
}
