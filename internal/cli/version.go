package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			info := a.info
			if info.Version == "" {
				info.Version = "dev"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "teachhelper %s\n", info.Version)
			if info.Commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", info.Commit)
			}
			if info.Date != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", info.Date)
			}
		},
	}
}
