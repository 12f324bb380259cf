package siirtoclient

import (
	"fmt"
	"os"

	"github.com/function61/gokit/osutil"
	"github.com/function61/siirto/pkg/mountinfo"
	"github.com/function61/siirto/pkg/zfsfilesystem"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		poolInitEntrypoint(),
		createEntrypoint(),
		cloneEntrypoint(),
		changeOwnerEntrypoint(),
		listEntrypoint(),
		snapshotsEntrypoint(),
		sendEntrypoint(),
		receiveEntrypoint(),
		historyEntrypoint(),
		configInitEntrypoint(),
		configPrintEntrypoint(),
	}
}

func poolInitEntrypoint() *cobra.Command {
	configPath := ""

	cmd := &cobra.Command{
		Use:   "pool-init",
		Short: "Makes the pool's root dataset read-only & unmountable (every command also does this)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				// app startup already asserted the invariants
				a.logl.Info.Printf("pool %s root asserted readonly=on canmount=off", a.pool.Name())
				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)

	return cmd
}

func createEntrypoint() *cobra.Command {
	configPath := ""
	owner := ""

	cmd := &cobra.Command{
		Use:   "create [volume]",
		Short: "Creates a filesystem for a volume",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				vol, err := a.volume(args[0], owner)
				if err != nil {
					return err
				}

				fs, err := a.pool.Create(vol)
				if err != nil {
					return err
				}

				printFilesystem(fs)
				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Owner node of the volume (default: this node)")

	return cmd
}

func cloneEntrypoint() *cobra.Command {
	configPath := ""
	parentOwner := ""
	owner := ""

	cmd := &cobra.Command{
		Use:   "clone [parentVolume] [volume]",
		Short: "Creates a copy-on-write clone of a volume's current state",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				parent, err := a.volume(args[0], parentOwner)
				if err != nil {
					return err
				}

				vol, err := a.volume(args[1], owner)
				if err != nil {
					return err
				}

				fs, err := a.pool.CloneTo(parent, vol)
				if err != nil {
					return err
				}

				printFilesystem(fs)
				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&parentOwner, "parent-owner", "p", parentOwner, "Owner node of the parent volume (default: this node)")
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Owner node of the new volume (default: this node)")

	return cmd
}

func changeOwnerEntrypoint() *cobra.Command {
	configPath := ""
	owner := ""

	cmd := &cobra.Command{
		Use:   "change-owner [volume] [newOwner]",
		Short: "Hands a volume's filesystem over to another owner",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				vol, err := a.volume(args[0], owner)
				if err != nil {
					return err
				}

				newVol, err := a.volume(args[0], args[1])
				if err != nil {
					return err
				}

				fs, err := a.pool.ChangeOwner(vol, newVol)
				if err != nil {
					return err
				}

				printFilesystem(fs)
				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Current owner node of the volume (default: this node)")

	return cmd
}

func listEntrypoint() *cobra.Command {
	configPath := ""

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Lists filesystems in the pool",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				filesystems, err := a.pool.Enumerate()
				if err != nil {
					return err
				}

				mounts, err := mountinfo.Current()
				if err != nil {
					a.logl.Error.Printf("unable to read mount table: %v", err)
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Filesystem", "Mountpoint", "Mounted", "Backed by"})
				table.AppendBulk(filesystemRows(filesystems.Sorted(), mounts))
				table.Render()

				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)

	return cmd
}

func snapshotsEntrypoint() *cobra.Command {
	configPath := ""
	owner := ""

	cmd := &cobra.Command{
		Use:   "snapshots [volume]",
		Short: "Lists snapshots of a volume's filesystem, oldest first (input for send --remote-file)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(configPath, func(a *app) error {
				vol, err := a.volume(args[0], owner)
				if err != nil {
					return err
				}

				snapshots, err := a.pool.Get(vol).Snapshots()
				if err != nil {
					return err
				}

				for _, snap := range snapshots {
					fmt.Println(snap.Name)
				}

				return nil
			}))
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&owner, "owner", "o", owner, "Owner node of the volume (default: this node)")

	return cmd
}

// "Backed by" is the device of the mount the mountpoint directory resolves to. for an
// unmounted filesystem that is its parent's, which is where writes would end up
func filesystemRows(filesystems []*zfsfilesystem.Filesystem, mounts *mountinfo.Table) [][]string {
	rows := [][]string{}

	for _, fs := range filesystems {
		mounted := "?"
		backedBy := "?"

		if mounts != nil {
			mounted = boolToStr(mounts.IsMountPoint(fs.Path()))

			if mount := mounts.MountFor(fs.Path()); mount != nil {
				backedBy = mount.Device
			}
		}

		rows = append(rows, []string{fs.FullName(), fs.Path(), mounted, backedBy})
	}

	return rows
}

func printFilesystem(fs *zfsfilesystem.Filesystem) {
	fmt.Printf("%s\t%s\n", fs.FullName(), fs.Path())
}

func boolToStr(input bool) string {
	if input {
		return "yes"
	} else {
		return "no"
	}
}
