package siirtoclient

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/function61/gokit/osutil"
	"github.com/function61/siirto/pkg/siirtometrics"
	"github.com/function61/siirto/pkg/snapshot"
	"github.com/function61/siirto/pkg/transferlog"
	"github.com/function61/siirto/pkg/zfsfilesystem"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func sendEntrypoint() *cobra.Command {
	configPath := ""
	owner := ""
	remote := ""
	remoteFile := ""

	cmd := &cobra.Command{
		Use:   "send [volume]",
		Short: "Snapshots a volume's filesystem and writes the stream to stdout",
		Long: `Snapshots a volume's filesystem and writes the stream to stdout.

If the receiving side's snapshots are given and we share one, the stream is incremental:

    $ ssh node-b siirto snapshots db --owner node-a > remote.txt
    $ siirto send db --remote-file remote.txt | ssh node-b siirto receive db --owner node-a`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				remoteSnapshots := parseSnapshotNames(remote, ",")

				if remoteFile != "" {
					content, err := os.ReadFile(remoteFile)
					if err != nil {
						return err
					}

					remoteSnapshots = append(remoteSnapshots, parseSnapshotNames(string(content), "\n")...)
				}

				return send(a, args[0], owner, remoteSnapshots, os.Stdout)
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Owner node of the volume (default: this node)")
	cmd.Flags().StringVarP(&remote, "remote", "r", remote, "Snapshots the receiver has, comma-separated oldest first")
	cmd.Flags().StringVarP(&remoteFile, "remote-file", "f", remoteFile, "File with snapshots the receiver has, one per line oldest first")

	return cmd
}

func receiveEntrypoint() *cobra.Command {
	configPath := ""
	owner := ""

	cmd := &cobra.Command{
		Use:   "receive [volume]",
		Short: "Receives a stream (from send) from stdin into a volume's filesystem",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				return receive(a, args[0], owner, os.Stdin)
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Owner node of the volume (default: this node)")

	return cmd
}

func historyEntrypoint() *cobra.Command {
	configPath := ""
	owner := ""

	cmd := &cobra.Command{
		Use:   "history [volume]",
		Short: "Shows completed transfers, optionally only for one volume",
		Args:  cobra.RangeArgs(0, 1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				filesystem := ""
				if len(args) > 0 {
					vol, err := a.volume(args[0], owner)
					if err != nil {
						return err
					}

					filesystem = a.pool.Get(vol).FullName()
				}

				entries, err := history(a, filesystem)
				if err != nil {
					return err
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"#", "Time", "Direction", "Filesystem", "Snapshot", "Basis", "Bytes", "Sha256"})

				for _, entry := range entries {
					table.Append([]string{
						fmt.Sprintf("%d", entry.ID),
						entry.Time.Format("2006-01-02 15:04:05"),
						string(entry.Direction),
						entry.Filesystem,
						entry.Snapshot,
						entry.Basis,
						humanizeBytes(entry.Bytes),
						entry.Sha256[0:12],
					})
				}

				table.Render()

				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Owner node of the volume (default: this node)")

	return cmd
}

func send(a *app, volumeName string, owner string, remoteSnapshots []snapshot.Snapshot, out *os.File) error {
	if isatty.IsTerminal(out.Fd()) {
		return errors.New("refusing to write a binary stream to a terminal; redirect stdout")
	}

	vol, err := a.volume(volumeName, owner)
	if err != nil {
		return err
	}

	fs := a.pool.Get(vol)

	meter := transferlog.NewMeter()

	result, err := fs.Reader(remoteSnapshots, func(stream io.Reader) error {
		_, err := io.Copy(io.MultiWriter(out, meter), stream)
		return err
	})
	if err != nil {
		return err
	}

	a.metrics.TransferCompleted(siirtometrics.DirectionSend, result.Incremental(), meter.Bytes())

	entry := &transferlog.Entry{
		Direction:  transferlog.DirectionSend,
		Filesystem: fs.FullName(),
		Snapshot:   result.Snapshot.Name,
		Bytes:      meter.Bytes(),
		Sha256:     meter.Sha256(),
	}

	if result.Basis != nil {
		entry.Basis = result.Basis.Name
		a.logl.Info.Printf("sent %s incrementally from %s (%s)", result.Snapshot.Of(fs.FullName()), entry.Basis, humanizeBytes(meter.Bytes()))
	} else {
		a.logl.Info.Printf("sent %s in full (%s)", result.Snapshot.Of(fs.FullName()), humanizeBytes(meter.Bytes()))
	}

	a.recordTransfer(entry)

	return nil
}

func receive(a *app, volumeName string, owner string, in io.Reader) error {
	vol, err := a.volume(volumeName, owner)
	if err != nil {
		return err
	}

	fs := a.pool.Get(vol)

	meter := transferlog.NewMeter()

	mode, err := fs.Writer(func(stream io.Writer) error {
		_, err := io.Copy(io.MultiWriter(stream, meter), in)
		return err
	})
	if err != nil {
		return err
	}

	a.metrics.TransferCompleted(siirtometrics.DirectionReceive, mode == zfsfilesystem.ReceiveIncremental, meter.Bytes())

	a.logl.Info.Printf("received %s (%s) into %s", humanizeBytes(meter.Bytes()), mode, fs.FullName())

	a.recordTransfer(&transferlog.Entry{
		Direction:  transferlog.DirectionReceive,
		Filesystem: fs.FullName(),
		Bytes:      meter.Bytes(),
		Sha256:     meter.Sha256(),
	})

	return nil
}

func history(a *app, filesystem string) ([]transferlog.Entry, error) {
	tlog, err := a.openTransferLog()
	if err != nil {
		return nil, err
	}

	if tlog == nil {
		return nil, errors.New("transfer log not enabled (transfer_log_path in config)")
	}
	defer tlog.Close()

	return tlog.List(filesystem)
}

// "a,b,,c" => [a b c]
func parseSnapshotNames(serialized string, separator string) []snapshot.Snapshot {
	names := lo.Filter(strings.Split(serialized, separator), func(name string, _ int) bool {
		return strings.TrimSpace(name) != ""
	})

	return lo.Map(names, func(name string, _ int) snapshot.Snapshot {
		return snapshot.New(strings.TrimSpace(name))
	})
}
