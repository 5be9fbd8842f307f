package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"

	"teachhelper-console/internal/domain/labels"
	"teachhelper-console/internal/domain/session"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
}

func printJSON(out io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printUser(out io.Writer, u *session.User) {
	if u == nil {
		return
	}
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, tagged(labels.RoleTag(r), labels.RoleText(r)))
	}
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render(u.Username), mutedStyle.Render(fmt.Sprintf("#%d", u.ID)))
	if u.Email != "" {
		fmt.Fprintf(out, "  邮箱: %s\n", u.Email)
	}
	fmt.Fprintf(out, "  角色: %s\n", strings.Join(roles, ", "))
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
