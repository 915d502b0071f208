package internal

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goplus/crossdeps/internal/state"
)

var stateFlags struct {
	root string
	json bool
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the packages recorded in a build root",
	Long: `State reads the record of a build root without locking it, so it also
works while a build is running.`,
	Args: cobra.NoArgs,
	RunE: runState,
}

func init() {
	stateCmd.Flags().StringVarP(&stateFlags.root, "root", "d", "", "Build root")
	stateCmd.Flags().BoolVar(&stateFlags.json, "json", false, "Print the raw record")
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	root, err := buildRoot(cmd, stateFlags.root)
	if err != nil {
		return err
	}
	st, err := state.Read(root)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if stateFlags.json {
		data, err := state.Encode(st)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintln(out, st.Location)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range st.Names() {
		v, ok := st.Built(name)
		if !ok {
			v = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, v)
	}
	return tw.Flush()
}
