package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"teachhelper-console/internal/transport/http/api"
)

func newQuestionsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "题目与 AI 生成",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var gen api.GenerationRequest
	var types string
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "创建 AI 题目生成任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			if types != "" {
				gen.QuestionTypes = strings.Split(types, ",")
			}
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			taskID, ran, err := rt.API.Questions.Generate(cmd.Context(), gen)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("已有生成任务正在提交"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("已创建生成任务"), taskID)
			return nil
		},
	}
	f := generateCmd.Flags()
	f.StringVar(&types, "types", "", "comma separated question types")
	f.IntVar(&gen.Count, "count", 1, "number of questions")
	f.StringVar(&gen.Subject, "subject", "", "subject")
	f.StringVar(&gen.GradeLevel, "grade", "", "grade level")
	f.Int64Var(&gen.KnowledgeBaseID, "kb", 0, "knowledge base id")
	f.StringVar(&gen.Prompt, "prompt", "", "custom prompt")

	answerCmd := &cobra.Command{
		Use:   "reference-answer <questionId>",
		Short: "AI 生成参考答案",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questionID, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			answer, _, err := rt.API.Questions.GenerateReferenceAnswer(cmd.Context(), questionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.AddCommand(generateCmd, answerCmd)
	return cmd
}

func newKnowledgeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "浏览与检索知识库",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var list pageFlags
	var query string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出知识库",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			page, err := rt.API.Knowledge.List(cmd.Context(), api.KnowledgeQuery{Page: list.page, Size: list.size, Query: query})
			if err != nil {
				return err
			}
			if list.jsonMode {
				return printJSON(cmd.OutOrStdout(), page)
			}
			return printKnowledgeBases(cmd.OutOrStdout(), page)
		},
	}
	list.bind(listCmd)
	listCmd.Flags().StringVar(&query, "query", "", "name filter")

	var limit int
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "向量检索知识库内容",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd)
			if err != nil {
				return err
			}
			hits, err := rt.API.Knowledge.Search(cmd.Context(), api.VectorSearch{Query: strings.Join(args, " "), MaxResults: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("无匹配结果"))
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render(fmt.Sprintf("%.2f", h.Score)), h.Content)
			}
			return nil
		},
	}
	searchCmd.Flags().IntVar(&limit, "limit", 10, "maximum results")

	cmd.AddCommand(listCmd, searchCmd)
	return cmd
}

func printKnowledgeBases(out io.Writer, page api.Page[api.KnowledgeBase]) error {
	if len(page.Content) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("暂无知识库"))
		return nil
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\t名称\t学科\t年级\t文档\t题目")
	for _, kb := range page.Content {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n", kb.ID, kb.Name, kb.Subject, kb.GradeLevel, kb.DocumentCount, kb.QuestionCount)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("共 %d 条", page.TotalElements)))
	return nil
}
