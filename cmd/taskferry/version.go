package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/taskferry/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Taskferry version %s (build %s, commit %s)\n", common.GetVersion(), common.Build, common.GitCommit)
	},
}
