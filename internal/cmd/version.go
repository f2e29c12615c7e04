package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupDiag,
	Short:   "Print the tamaki version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("tamaki %s\n", version.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
