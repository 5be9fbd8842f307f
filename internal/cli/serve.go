package cli

import (
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动控制台服务与任务推送中继",
		Long: `Serves the console: pages of the route table behind the navigation guard,
login and registration endpoints, and /ws/tasks relaying task socket updates
to browsers. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				rt.Config.Console.Addr = addr
			}
			return rt.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides console.addr)")
	return cmd
}
