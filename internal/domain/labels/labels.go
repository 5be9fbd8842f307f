// Package labels maps backend enum values to display tags and Chinese text.
package labels

// Tag is a display category. Renderers pick a colour per tag.
type Tag string

const (
	TagSuccess Tag = "success"
	TagPrimary Tag = "primary"
	TagWarning Tag = "warning"
	TagInfo    Tag = "info"
	TagDanger  Tag = "danger"
)

var questionTypeTags = map[string]Tag{
	"SINGLE_CHOICE":   TagPrimary,
	"MULTIPLE_CHOICE": TagSuccess,
	"TRUE_FALSE":      TagInfo,
	"SHORT_ANSWER":    TagWarning,
	"ESSAY":           TagDanger,
	"CODING":          TagPrimary,
	"CASE_ANALYSIS":   TagWarning,
	"CALCULATION":     TagSuccess,
}

var questionTypeTexts = map[string]string{
	"SINGLE_CHOICE":   "单选题",
	"MULTIPLE_CHOICE": "多选题",
	"TRUE_FALSE":      "判断题",
	"SHORT_ANSWER":    "简答题",
	"ESSAY":           "论述题",
	"CODING":          "编程题",
	"CASE_ANALYSIS":   "案例分析题",
	"CALCULATION":     "计算题",
}

var statusTags = map[string]Tag{
	"PENDING":     TagWarning,
	"IN_PROGRESS": TagPrimary,
	"COMPLETED":   TagSuccess,
	"EVALUATED":   TagSuccess,
	"ENDED":       TagWarning,
	"CANCELLED":   TagDanger,
	"DRAFT":       TagInfo,
	"PUBLISHED":   TagSuccess,
	"ARCHIVED":    TagInfo,
	"ACTIVE":      TagSuccess,
	"INACTIVE":    TagInfo,
}

var statusTexts = map[string]string{
	"PENDING":     "待开始",
	"IN_PROGRESS": "进行中",
	"COMPLETED":   "已完成",
	"EVALUATED":   "已评估",
	"ENDED":       "已结束",
	"CANCELLED":   "已取消",
	"DRAFT":       "草稿",
	"PUBLISHED":   "已发布",
	"ARCHIVED":    "已归档",
	"ACTIVE":      "进行中",
	"INACTIVE":    "已结束",
}

var taskStatusTags = map[string]Tag{
	"RUNNING":   TagWarning,
	"COMPLETED": TagSuccess,
	"FAILED":    TagDanger,
	"PENDING":   TagInfo,
	"CANCELLED": TagInfo,
}

var taskStatusTexts = map[string]string{
	"PENDING":   "等待中",
	"RUNNING":   "运行中",
	"PAUSED":    "已暂停",
	"COMPLETED": "已完成",
	"FAILED":    "失败",
	"CANCELLED": "已取消",
}

var roleTags = map[string]Tag{
	"ADMIN":   TagDanger,
	"TEACHER": TagPrimary,
	"STUDENT": TagSuccess,
	"GUEST":   TagInfo,
}

var roleTexts = map[string]string{
	"ADMIN":   "管理员",
	"TEACHER": "教师",
	"STUDENT": "学生",
	"GUEST":   "访客",
}

var taskTypeTags = map[string]Tag{
	"AI_COMPREHENSIVE": TagPrimary,
	"AI_GRAMMAR":       TagInfo,
	"AI_KEYWORD":       TagWarning,
	"MANUAL":           TagSuccess,
	"BATCH":            TagPrimary,
}

func tagOr(m map[string]Tag, key string) Tag {
	if t, ok := m[key]; ok {
		return t
	}
	return TagInfo
}

func textOr(m map[string]string, key string) string {
	if t, ok := m[key]; ok {
		return t
	}
	return key
}

// QuestionTypeTag tags a question type.
func QuestionTypeTag(questionType string) Tag { return tagOr(questionTypeTags, questionType) }

// QuestionTypeText is the Chinese name of a question type.
func QuestionTypeText(questionType string) string { return textOr(questionTypeTexts, questionType) }

// StatusTag tags an exam or answer status.
func StatusTag(status string) Tag { return tagOr(statusTags, status) }

// StatusText is the Chinese name of an exam or answer status.
func StatusText(status string) string { return textOr(statusTexts, status) }

// TaskStatusTag tags a task status.
func TaskStatusTag(status string) Tag { return tagOr(taskStatusTags, status) }

// TaskStatusText is the Chinese name of a task status.
func TaskStatusText(status string) string { return textOr(taskStatusTexts, status) }

// RoleTag tags a role.
func RoleTag(role string) Tag { return tagOr(roleTags, role) }

// RoleText is the Chinese name of a role.
func RoleText(role string) string { return textOr(roleTexts, role) }

// TaskTypeTag tags an evaluation task type.
func TaskTypeTag(taskType string) Tag { return tagOr(taskTypeTags, taskType) }

// ScoreTag grades score out of maxScore. Nil inputs, or a non-positive
// maximum, are Info.
func ScoreTag(score, maxScore *float64) Tag {
	if score == nil || maxScore == nil || *maxScore <= 0 {
		return TagInfo
	}
	pct := *score / *maxScore * 100
	switch {
	case pct >= 90:
		return TagSuccess
	case pct >= 80:
		return TagPrimary
	case pct >= 70:
		return TagWarning
	case pct >= 60:
		return TagInfo
	default:
		return TagDanger
	}
}
