package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"teachhelper-console/internal/domain/labels"
)

// isInteractive reports whether stdin is a terminal.
func isInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func promptCredentials(username, password *string) error {
	var fields []huh.Field
	if *username == "" {
		fields = append(fields, huh.NewInput().Title("用户名").Value(username))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().Title("密码").EchoMode(huh.EchoModePassword).Value(password))
	}
	if len(fields) == 0 {
		return nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

type registerInput struct {
	username string
	password string
	email    string
	role     string
}

func promptRegistration(in *registerInput, roles []string) error {
	var fields []huh.Field
	if in.username == "" {
		fields = append(fields, huh.NewInput().Title("用户名").Value(&in.username))
	}
	if in.password == "" {
		fields = append(fields, huh.NewInput().Title("密码").EchoMode(huh.EchoModePassword).Value(&in.password))
	}
	if in.email == "" {
		fields = append(fields, huh.NewInput().Title("邮箱").Value(&in.email))
	}
	if in.role == "" && len(roles) > 0 {
		options := make([]huh.Option[string], len(roles))
		for i, r := range roles {
			options[i] = huh.NewOption(labels.RoleText(r), r)
		}
		in.role = roles[0]
		fields = append(fields, huh.NewSelect[string]().Title("角色").Options(options...).Value(&in.role))
	}
	if len(fields) == 0 {
		return nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

func confirm(message string, def bool) (bool, error) {
	ok := def
	field := huh.NewConfirm().Title(message).Value(&ok)
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return ok, nil
}
