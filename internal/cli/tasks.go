package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"teachhelper-console/internal/domain/labels"
	"teachhelper-console/internal/domain/task"
	"teachhelper-console/internal/transport/http/api"
	"teachhelper-console/internal/transport/ws/taskclient"
)

// controlParallelism bounds concurrent control calls of one batch.
const controlParallelism = 4

func newTasksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "管理 AI 评阅任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newTasksListCommand(a),
		newTasksStatsCommand(a),
		newTasksShowCommand(a),
		newTasksLogsCommand(a),
		newTasksExportCommand(a),
		newTasksWatchCommand(a),
	)
	for _, op := range []task.Operation{task.OpStart, task.OpPause, task.OpResume, task.OpCancel, task.OpRetry} {
		cmd.AddCommand(newTaskControlCommand(a, op))
	}
	cmd.AddCommand(newTasksDeleteCommand(a))
	return cmd
}

func newTasksListCommand(a *app) *cobra.Command {
	var (
		pf     pageFlags
		filter api.TaskFilter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			filter.Page, filter.Size = pf.page, pf.size
			filter.Status = strings.ToUpper(filter.Status)
			page, err := rt.API.Tasks.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			rt.Board.Replace(page.Content)
			if pf.jsonMode {
				return printJSON(cmd.OutOrStdout(), page)
			}
			return printTasks(cmd.OutOrStdout(), rt.Board.Tasks())
		},
	}
	pf.bind(cmd)
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filter.Type, "type", "", "filter by task type")
	cmd.Flags().StringVar(&filter.Priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&filter.Name, "name", "", "filter by name")
	return cmd
}

func newTasksStatsCommand(a *app) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "任务统计",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			var stats task.Stats
			if local {
				page, err := rt.API.Tasks.List(cmd.Context(), api.TaskFilter{})
				if err != nil {
					return err
				}
				rt.Board.Replace(page.Content)
				stats = rt.Board.Stats()
			} else if stats, err = rt.API.Tasks.Stats(cmd.Context()); err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "count from the task list instead of the stats endpoint")
	return cmd
}

func newTasksShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <taskId>",
		Short: "查看任务详情",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			t, err := rt.API.Tasks.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", titleStyle.Render(t.Name), tagged(labels.TaskStatusTag(t.Status), labels.TaskStatusText(t.Status)))
			fmt.Fprintf(out, "  编号: %s  类型: %s  优先级: %s\n", t.Key(), tagged(labels.TaskTypeTag(t.Type), t.Type), t.Priority)
			fmt.Fprintf(out, "  进度: %s\n", progressText(t))
			if t.Message != "" {
				fmt.Fprintf(out, "  消息: %s\n", t.Message)
			}
			if t.Error != "" {
				fmt.Fprintln(out, errorStyle.Render("  错误: "+t.Error))
			}
			return nil
		},
	}
}

func newTasksLogsCommand(a *app) *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "logs <taskId>",
		Short: "查看任务日志",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			page, err := rt.API.Tasks.Logs(cmd.Context(), args[0], pf.page, pf.size)
			if err != nil {
				return err
			}
			if pf.jsonMode {
				return printJSON(cmd.OutOrStdout(), page)
			}
			out := cmd.OutOrStdout()
			for _, l := range page.Content {
				fmt.Fprintf(out, "%s [%s] %s\n", mutedStyle.Render(l.Timestamp), l.Level, l.Message)
			}
			return nil
		},
	}
	pf.bind(cmd)
	return cmd
}

func newTasksExportCommand(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <taskId>",
		Short: "导出任务结果",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			resp, err := rt.API.Tasks.Export(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			if output == "" {
				output = exportFilename(args[0], format)
			}
			if err := os.WriteFile(output, resp.Body, 0o644); err != nil {
				return fmt.Errorf("写入导出文件失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d bytes)\n", okStyle.Render("已导出"), output, len(resp.Body))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "excel", "excel, csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

func exportFilename(taskID, format string) string {
	ext := format
	switch format {
	case "", "excel":
		ext = "xlsx"
	}
	return "task-" + taskID + "-results." + ext
}

func newTasksDeleteCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <taskId>",
		Short: "删除任务",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && a.interactive() {
				ok, err := confirm("确定删除任务 "+args[0]+"?", false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			if err := rt.API.Tasks.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("已删除 "+args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

var controlShort = map[task.Operation]string{
	task.OpStart:  "启动任务",
	task.OpPause:  "暂停任务",
	task.OpResume: "恢复任务",
	task.OpCancel: "取消任务",
	task.OpRetry:  "重试任务",
}

type controlResult struct {
	id   string
	task task.Task
	ran  bool
	err  error
}

func newTaskControlCommand(a *app, op task.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   string(op) + " <taskId>...",
		Short: controlShort[op],
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}

			results := make([]controlResult, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(controlParallelism)
			for i, id := range args {
				g.Go(func() error {
					t, ran, err := rt.API.Tasks.Control(ctx, op, id)
					results[i] = controlResult{id: id, task: t, ran: ran, err: err}
					// one failure must not cancel the rest of the batch
					return nil
				})
			}
			_ = g.Wait()

			return reportControl(cmd.OutOrStdout(), op, results)
		},
	}
}

func reportControl(out io.Writer, op task.Operation, results []controlResult) error {
	var failed []error
	for _, r := range results {
		switch {
		case r.err != nil:
			failed = append(failed, fmt.Errorf("%s: %w", r.id, r.err))
			fmt.Fprintf(out, "%s %s\n", r.id, errorStyle.Render(r.err.Error()))
		case !r.ran:
			fmt.Fprintf(out, "%s %s\n", r.id, mutedStyle.Render("操作进行中，已忽略"))
		default:
			status := r.task.Status
			fmt.Fprintf(out, "%s %s %s\n", r.id, okStyle.Render(controlShort[op]+"成功"), tagged(labels.TaskStatusTag(status), labels.TaskStatusText(status)))
		}
	}
	return errors.Join(failed...)
}

func newTasksWatchCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch [taskId]",
		Short: "实时查看任务进度",
		Long:  "Streams task updates from the task socket. With a task id the command exits once that task finishes.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			key := taskclient.Wildcard
			if len(args) == 1 {
				key = args[0]
				if t, err := rt.API.Tasks.Get(ctx, key); err == nil {
					rt.Board.Replace([]task.Task{t})
				}
			}
			return watch(ctx, cmd.OutOrStdout(), rt.TaskSocket, rt.Board, key)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop after this long (0 waits until interrupted)")
	return cmd
}

type taskSocket interface {
	Connect(ctx context.Context)
	Disconnect()
	Subscribe(key string, fn taskclient.Handler) func()
}

// watch prints updates for key until ctx ends, or until the watched task
// reaches a final status.
func watch(ctx context.Context, out io.Writer, socket taskSocket, board *task.Board, key string) error {
	updates := make(chan task.Update, 64)
	unsubscribe := socket.Subscribe(key, func(u task.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	defer unsubscribe()

	socket.Connect(ctx)
	defer socket.Disconnect()

	fmt.Fprintln(out, mutedStyle.Render("等待任务推送，按 Ctrl+C 退出"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			board.Apply(u)
			printUpdate(out, board, u)
			if key != taskclient.Wildcard && u.Terminal() {
				return nil
			}
		}
	}
}

func printUpdate(out io.Writer, board *task.Board, u task.Update) {
	status := u.StatusOr("")
	line := u.TaskID
	if t, ok := board.Get(u.TaskID); ok {
		status = t.Status
		line += " " + progressText(t)
	} else if u.Progress != nil {
		line += fmt.Sprintf(" %.0f%%", *u.Progress)
	}
	if status != "" {
		line += " " + tagged(labels.TaskStatusTag(status), labels.TaskStatusText(status))
	}
	if u.Message != nil && *u.Message != "" {
		line += " " + mutedStyle.Render(*u.Message)
	}
	if u.Error != nil && *u.Error != "" {
		line += " " + errorStyle.Render(*u.Error)
	}
	fmt.Fprintln(out, line)
}

func progressText(t task.Task) string {
	if t.TotalCount > 0 {
		return fmt.Sprintf("%.0f%% (%d/%d)", t.Progress, t.ProcessedCount, t.TotalCount)
	}
	return fmt.Sprintf("%.0f%%", t.Progress)
}

func printTasks(out io.Writer, tasks []task.Task) error {
	if len(tasks) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("暂无任务"))
		return nil
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\t名称\t类型\t进度\t状态")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Key(), t.Name, t.Type, progressText(t), tagged(labels.TaskStatusTag(t.Status), labels.TaskStatusText(t.Status)))
	}
	return w.Flush()
}

func printStats(out io.Writer, s task.Stats) {
	w := newTable(out)
	rows := []struct {
		status string
		n      int
	}{
		{task.StatusRunning, s.Running},
		{task.StatusPending, s.Pending},
		{task.StatusPaused, s.Paused},
		{task.StatusCompleted, s.Completed},
		{task.StatusFailed, s.Failed},
		{task.StatusCancelled, s.Cancelled},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\n", labels.TaskStatusText(r.status), r.n)
	}
	fmt.Fprintf(w, "合计\t%d\n", s.Total)
	_ = w.Flush()
}
