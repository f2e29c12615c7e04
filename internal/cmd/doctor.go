package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/doctor"
	"github.com/artificial-imagination/tamaki/internal/style"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: GroupDiag,
	Short:   "Diagnose the environment",
	Long: `Checks everything the sender and launcher depend on: tmux, the
config file, the I2C device node, the command port, lock files, and
the session's zombie state. Each problem comes with a fix hint;
--fix applies the safe fixes (removing stale locks, writing a
starter config when none exists).

Examples:
  tamaki doctor
  tamaki doctor --fix`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Apply safe fixes")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(configFlag)
	cfg, cfgErr := config.Load(path)

	stateDir, err := config.StateDir()
	if err != nil {
		return err
	}

	ctx := &doctor.CheckContext{
		Config:     cfg,
		ConfigPath: path,
		ConfigErr:  cfgErr,
		StateDir:   stateDir,
	}

	checks := doctor.All()
	fmt.Printf("\n%s Checking the installation...\n\n", style.Bold.Render("tamaki doctor"))

	fixed := 0
	results := make([]*doctor.CheckResult, 0, len(checks))
	for _, c := range checks {
		result := c.Run(ctx)

		if doctorFix && result.Status != doctor.StatusOK && c.CanFix() {
			if err := c.Fix(ctx); err != nil {
				result.Details = append(result.Details, "fix failed: "+err.Error())
			} else {
				fixed++
				result = c.Run(ctx) // re-check after fixing
			}
		}
		results = append(results, result)
		printCheckResult(result)
	}

	fmt.Println()
	if fixed > 0 {
		fmt.Printf("%s Applied %d fix(es)\n", style.SuccessPrefix, fixed)
	}
	switch doctor.Worst(results) {
	case doctor.StatusOK:
		fmt.Printf("%s Everything looks good\n", style.SuccessPrefix)
	case doctor.StatusWarning:
		fmt.Printf("%s Warnings above; the sender may still run\n", style.WarningPrefix)
	default:
		fmt.Printf("%s Problems above need fixing before 'tamaki up'\n", style.ErrorPrefix)
	}
	return nil
}

func printCheckResult(r *doctor.CheckResult) {
	var prefix string
	switch r.Status {
	case doctor.StatusOK:
		prefix = style.SuccessPrefix
	case doctor.StatusWarning:
		prefix = style.WarningPrefix
	default:
		prefix = style.ErrorPrefix
	}

	fmt.Printf("  %s %s: %s\n", prefix, style.Bold.Render(r.Name), r.Message)
	for _, d := range r.Details {
		fmt.Printf("      %s\n", style.Dim.Render(d))
	}
	if r.FixHint != "" && r.Status != doctor.StatusOK {
		fmt.Printf("      %s\n", style.Dim.Render("fix: "+r.FixHint))
	}
}
