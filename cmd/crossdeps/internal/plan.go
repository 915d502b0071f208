package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goplus/crossdeps/internal/recipe"
	"github.com/goplus/crossdeps/internal/state"
	"github.com/goplus/crossdeps/pkgs/gnu"
	"github.com/goplus/crossdeps/plans"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect build plans",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in plans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range plans.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show [plan]",
	Short: "Print the packages of a plan in build order",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlanShow,
}

var planValidateCmd = &cobra.Command{
	Use:   "validate [plan]",
	Short: "Check a plan for errors",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlanValidate,
}

var planStatusRoot string

var planStatusCmd = &cobra.Command{
	Use:   "status [plan]",
	Short: "Compare a plan with what a build root has recorded",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlanStatus,
}

func init() {
	planStatusCmd.Flags().StringVarP(&planStatusRoot, "root", "d", "", "Build root")
	planCmd.AddCommand(planListCmd, planShowCmd, planValidateCmd, planStatusCmd)
	rootCmd.AddCommand(planCmd)
}

func planArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg != nil && cfg.Plan != "" {
		return cfg.Plan
	}
	return "mingw"
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	plan, err := plans.Resolve(planArg(args))
	if err != nil {
		return err
	}
	return printPlan(cmd.OutOrStdout(), plan)
}

func printPlan(w io.Writer, plan *recipe.Plan) error {
	fmt.Fprintf(w, "%s: host %s, build %s\n", plan.Name, plan.Toolchain.Host, plan.Toolchain.Build)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tVERSION\tSTEPS\tDEPS")
	for _, r := range plan.Recipes {
		version := r.Version
		if version == "" {
			version = "(always)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Name, version, len(r.Steps), strings.Join(r.Requires(), ","))
	}
	return tw.Flush()
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	name := planArg(args)
	plan, err := plans.Resolve(name)
	if err != nil {
		return err
	}
	issues := recipe.Validate(plan)
	for _, issue := range issues {
		fmt.Fprintln(cmd.OutOrStdout(), issue)
	}
	if len(issues) > 0 {
		return fmt.Errorf("%s: %d issues", name, len(issues))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d packages, ok\n", name, len(plan.Recipes))
	return nil
}

func runPlanStatus(cmd *cobra.Command, args []string) error {
	plan, err := plans.Resolve(planArg(args))
	if err != nil {
		return err
	}
	root, err := buildRoot(cmd, planStatusRoot)
	if err != nil {
		return err
	}
	st, err := state.Read(root)
	if errors.Is(err, fs.ErrNotExist) {
		st = &state.State{}
	} else if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tRECORDED\tPLAN\tSTATUS")
	for _, r := range plan.Recipes {
		recorded, _ := st.Built(r.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, orDash(recorded), orDash(r.Version), status(recorded, r.Version))
	}
	return tw.Flush()
}

// status describes what the next build does with a package recorded at
// version recorded whose recipe declares version declared.
func status(recorded, declared string) string {
	switch {
	case declared == "":
		return "always rebuilt"
	case recorded == "":
		return "not built"
	case recorded == declared:
		return "up to date"
	case gnu.Compare(recorded, declared) < 0:
		return "upgrade"
	case gnu.Compare(recorded, declared) > 0:
		return "downgrade"
	}
	// equal as versions, different as strings
	return "rebuild"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
