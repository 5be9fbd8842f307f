package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"teachhelper-console/internal/domain/labels"
	"teachhelper-console/internal/transport/http/api"
)

type pageFlags struct {
	page     int
	size     int
	jsonMode bool
}

func (p *pageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.page, "page", 0, "page number, zero based")
	cmd.Flags().IntVar(&p.size, "size", 20, "page size")
	cmd.Flags().BoolVar(&p.jsonMode, "json", false, "print raw JSON")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("无效的编号: %q", arg)
	}
	return id, nil
}

func newExamsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exams",
		Short: "浏览考试",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var list, mine pageFlags
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出全部考试",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			page, err := rt.API.Exams.List(cmd.Context(), list.page, list.size)
			if err != nil {
				return err
			}
			if list.jsonMode {
				return printJSON(cmd.OutOrStdout(), page)
			}
			return printExams(cmd.OutOrStdout(), page)
		},
	}
	list.bind(listCmd)

	myCmd := &cobra.Command{
		Use:   "my",
		Short: "列出我的考试",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			page, err := rt.API.Exams.My(cmd.Context(), mine.page, mine.size)
			if err != nil {
				return err
			}
			if mine.jsonMode {
				return printJSON(cmd.OutOrStdout(), page)
			}
			return printExams(cmd.OutOrStdout(), page)
		},
	}
	mine.bind(myCmd)

	var withStats bool
	showCmd := &cobra.Command{
		Use:   "show <examId>",
		Short: "查看考试详情",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			exam, err := rt.API.Exams.Get(cmd.Context(), examID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", titleStyle.Render(exam.Title), tagged(labels.StatusTag(exam.Status), labels.StatusText(exam.Status)))
			if exam.Description != "" {
				fmt.Fprintln(out, mutedStyle.Render(exam.Description))
			}
			fmt.Fprintf(out, "  创建者: %s  创建时间: %s\n", exam.CreatedBy, exam.CreatedAt)
			fmt.Fprintf(out, "  题目数: %d  总分: %s\n", exam.TotalQuestions, fmtScore(exam.TotalScore))

			if !withStats {
				return nil
			}
			stats, err := rt.API.Exams.Statistics(cmd.Context(), examID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  答案: %d/%d 已评阅 (%.0f%%)\n", stats.EvaluatedAnswers, stats.TotalAnswers, stats.EvaluationProgress)
			fmt.Fprintf(out, "  学生: %d 人, 已提交 %d, 已评阅 %d\n", stats.TotalStudents, stats.StudentsSubmitted, stats.StudentsEvaluated)
			fmt.Fprintf(out, "  平均分 %s  最高分 %s  最低分 %s\n", fmtScore(stats.AverageScore), fmtScore(stats.MaxScore), fmtScore(stats.MinScore))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&withStats, "stats", false, "include evaluation statistics")

	searchCmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "按标题搜索考试",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			exams, err := rt.API.Exams.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printExams(cmd.OutOrStdout(), api.Page[api.Exam]{Content: exams, TotalElements: int64(len(exams))})
		},
	}

	cmd.AddCommand(listCmd, myCmd, showCmd, searchCmd)
	return cmd
}

func printExams(out io.Writer, page api.Page[api.Exam]) error {
	if len(page.Content) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("暂无考试"))
		return nil
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\t标题\t题目\t创建者\t状态")
	for _, e := range page.Content {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", e.ID, e.Title, e.TotalQuestions, e.CreatedBy, tagged(labels.StatusTag(e.Status), labels.StatusText(e.Status)))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("共 %d 条", page.TotalElements)))
	return nil
}

func newAnswersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answers",
		Short: "查看答题情况",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <examId>",
		Short: "查询我是否已提交该考试",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			submitted, err := rt.API.Answers.SubmissionStatus(cmd.Context(), examID)
			if err != nil {
				return err
			}
			if submitted {
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("已提交"))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("未提交"))
			}
			return nil
		},
	}

	var mineOnly bool
	listCmd := &cobra.Command{
		Use:   "list <examId>",
		Short: "列出考试的答案",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			var answers []api.Answer
			if mineOnly {
				answers, err = rt.API.Answers.Mine(cmd.Context(), examID)
			} else {
				answers, err = rt.API.Answers.ListByExam(cmd.Context(), examID)
			}
			if err != nil {
				return err
			}
			return printAnswers(cmd.OutOrStdout(), answers)
		},
	}
	listCmd.Flags().BoolVar(&mineOnly, "mine", false, "only my answers")

	cmd.AddCommand(statusCmd, listCmd)
	return cmd
}

func printAnswers(out io.Writer, answers []api.Answer) error {
	if len(answers) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("暂无答案"))
		return nil
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\t题目\t学生\t题型\t得分")
	for _, ans := range answers {
		score := mutedStyle.Render("未评阅")
		if ans.Evaluated {
			score = tagged(labels.ScoreTag(ans.Score, ans.MaxScore), fmtScore(ans.Score)+"/"+fmtScore(ans.MaxScore))
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", ans.ID, ans.QuestionID, ans.StudentName, labels.QuestionTypeText(ans.QuestionType), score)
	}
	return w.Flush()
}
