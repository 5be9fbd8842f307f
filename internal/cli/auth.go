package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"teachhelper-console/internal/domain/labels"
	"teachhelper-console/internal/domain/registration"
	"teachhelper-console/internal/domain/session"
)

func newAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "登录、注册与会话管理",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newLoginCommand(a),
		newRegisterCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
	)
	return cmd
}

func newLoginCommand(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "登录并保存会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (username == "" || password == "") && a.interactive() {
				if err := promptCredentials(&username, &password); err != nil {
					return err
				}
			}
			if username == "" || password == "" {
				return errors.New("用户名和密码不能为空")
			}

			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			if err := rt.Session.Login(cmd.Context(), session.Credentials{Username: username, Password: password}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, okStyle.Render("登录成功"))
			printUser(out, rt.Session.User())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	return cmd
}

func newRegisterCommand(a *app) *cobra.Command {
	var in registerInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "注册新账号",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}

			current := ""
			if rt.Session.IsAuthenticated() {
				current = rt.Session.PrimaryRole()
			}
			if a.interactive() {
				if err := promptRegistration(&in, registration.AvailableRoles(current)); err != nil {
					return err
				}
			}
			if in.role == "" {
				in.role = session.RoleStudent
			}
			role := strings.ToUpper(in.role)

			form := registration.Form{
				Username: in.username,
				Password: in.password,
				Email:    in.email,
				Roles:    []string{role},
			}
			if err := registration.NewValidator().Validate(form); err != nil {
				var verr *registration.ValidationError
				if errors.As(err, &verr) {
					for _, f := range verr.Fields {
						fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(f.Field+": "+f.Message))
					}
					return errors.New("注册信息不合法")
				}
				return err
			}
			if !registration.CanRegisterRole(current, role) {
				return fmt.Errorf("无权创建%s账号", labels.RoleText(role))
			}

			if err := rt.Session.Register(cmd.Context(), form.Request()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("注册成功，请登录"))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.username, "username", "", "username")
	cmd.Flags().StringVar(&in.password, "password", "", "password")
	cmd.Flags().StringVar(&in.email, "email", "", "email address")
	cmd.Flags().StringVar(&in.role, "role", "", "STUDENT or TEACHER (admins may also create ADMIN)")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "退出登录并清除本地会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			if err := rt.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("已退出登录"))
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "显示当前会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			if refresh && rt.Session.IsAuthenticated() {
				if err := rt.Session.RefreshUser(cmd.Context()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			snap := rt.Session.Snapshot()
			if !snap.Authenticated {
				fmt.Fprintln(out, mutedStyle.Render("未登录"))
				return nil
			}
			printUser(out, snap.User)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload the profile from the backend")
	return cmd
}
