package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errDevOnly = errors.New("该命令仅在开发模式下可用，请加上 --dev")

type devBackend interface {
	InitData(ctx context.Context) (string, error)
	GenerateSampleData(ctx context.Context) (string, error)
}

func newDevCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "dev",
		Short:  "开发辅助工具",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newDevCallCommand(a, "init-data", "初始化基础数据", devBackend.InitData),
		newDevCallCommand(a, "sample-data", "生成示例数据", devBackend.GenerateSampleData),
	)
	return cmd
}

func newDevCallCommand(a *app, use, short string, call func(devBackend, context.Context) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			if !rt.Config.App.DevMode {
				return errDevOnly
			}
			msg, err := call(rt.API.Dev, cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(msg))
			return nil
		},
	}
}
