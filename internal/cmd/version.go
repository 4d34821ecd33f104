package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lemurs version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lemurs", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
