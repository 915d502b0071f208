package internal

import (
	"errors"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/goplus/crossdeps/internal/state"
	"github.com/goplus/crossdeps/internal/workspace"
)

var cleanFlags struct {
	root  string
	items bool
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Empty the scratch area of a build root",
	Long: `Clean removes the scratch area left by a failed build. With --items it also
removes every install area and forgets all recorded packages, so the next
build starts from scratch.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().StringVarP(&cleanFlags.root, "root", "d", "", "Build root")
	cleanCmd.Flags().BoolVar(&cleanFlags.items, "items", false, "Also remove all install areas")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) (err error) {
	root, err := buildRoot(cmd, cleanFlags.root)
	if err != nil {
		return err
	}
	ws, err := workspace.New(root)
	if err != nil {
		return err
	}
	if err := ws.PrepareRoot(); err != nil {
		return err
	}
	// the lock keeps a running build from losing its tree
	store, err := state.Open(ws.Root())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	if err := ws.CleanTemp(); err != nil {
		return err
	}
	if !cleanFlags.items {
		color.Success.Println("scratch area removed")
		return nil
	}
	snap := store.Snapshot()
	for _, name := range snap.Names() {
		if err := store.Invalidate(name); err != nil {
			return err
		}
	}
	if err := ws.Clean("exports"); err != nil {
		return err
	}
	if err := ws.Clean("items"); err != nil {
		return err
	}
	color.Success.Printf("removed %d install areas\n", len(snap.Names()))
	return nil
}
