package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"teachhelper-console/internal/domain/labels"
	"teachhelper-console/internal/domain/navigation"
)

func newRouteCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "路由表与导航守卫",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var jsonMode bool
	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "以当前会话检查一次页面跳转",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			d, err := rt.Guard.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonMode {
				return printJSON(cmd.OutOrStdout(), d)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", titleStyle.Render(d.Target.Route.Name), mutedStyle.Render(d.Target.Path))
			if d.Action == navigation.Redirect {
				fmt.Fprintf(out, "  %s -> %s (%s)\n", tagged(labels.TagWarning, "redirect"), d.Location, d.Reason)
			} else {
				fmt.Fprintf(out, "  %s (%s)\n", tagged(labels.TagSuccess, "proceed"), d.Reason)
			}
			return nil
		},
	}
	checkCmd.Flags().BoolVar(&jsonMode, "json", false, "print the decision as JSON")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出路由表",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "名称\t路径\t登录\t角色")
			for _, r := range navigation.DefaultTable().Routes() {
				auth := "-"
				if r.Meta.RequiresAuth {
					auth = "是"
				}
				roles := "-"
				if len(r.Meta.Roles) > 0 {
					roles = strings.Join(r.Meta.Roles, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Path, auth, roles)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(checkCmd, listCmd)
	return cmd
}
