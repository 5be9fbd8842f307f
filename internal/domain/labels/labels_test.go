package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestScoreTag(t *testing.T) {
	cases := []struct {
		score, max float64
		want       Tag
	}{
		{90, 100, TagSuccess},
		{89.9, 100, TagPrimary},
		{16, 20, TagPrimary},
		{70, 100, TagWarning},
		{60, 100, TagInfo},
		{59, 100, TagDanger},
		{0, 100, TagDanger},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ScoreTag(f(c.score), f(c.max)), "%v/%v", c.score, c.max)
	}

	assert.Equal(t, TagInfo, ScoreTag(nil, f(100)))
	assert.Equal(t, TagInfo, ScoreTag(f(50), nil))
	assert.Equal(t, TagInfo, ScoreTag(f(50), f(0)))
}

func TestLookupsFallBack(t *testing.T) {
	assert.Equal(t, TagDanger, QuestionTypeTag("ESSAY"))
	assert.Equal(t, TagInfo, QuestionTypeTag("UNKNOWN"))
	assert.Equal(t, "案例分析题", QuestionTypeText("CASE_ANALYSIS"))
	assert.Equal(t, "UNKNOWN", QuestionTypeText("UNKNOWN"))

	assert.Equal(t, TagSuccess, StatusTag("PUBLISHED"))
	assert.Equal(t, "已归档", StatusText("ARCHIVED"))

	assert.Equal(t, TagWarning, TaskStatusTag("RUNNING"))
	assert.Equal(t, TagInfo, TaskStatusTag("PAUSED"))
	assert.Equal(t, "已暂停", TaskStatusText("PAUSED"))

	assert.Equal(t, TagDanger, RoleTag("ADMIN"))
	assert.Equal(t, "教师", RoleText("TEACHER"))
	assert.Equal(t, TagWarning, TaskTypeTag("AI_KEYWORD"))
}
