package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via -ldflags "-X ...buildVersion=...".
var buildVersion = "dev"

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show stata-bridge version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stata-bridge %s\n", buildVersion)
	},
}
