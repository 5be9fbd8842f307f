// Package registration validates self-service sign-up requests before they
// reach the backend.
package registration

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"teachhelper-console/internal/domain/session"
	platformerrors "teachhelper-console/internal/platform/errors"
)

// 自定义校验标签
const (
	usernameCharsTag = "username_chars"
	usernameMinTag   = "username_min"
	notReservedTag   = "not_reserved"
	hasLetterTag     = "has_letter"
	hasDigitTag      = "has_digit"
	notWeakTag       = "not_weak"
)

var (
	// AllowedRoles may be chosen on the public sign-up form.
	AllowedRoles = []string{session.RoleStudent, session.RoleTeacher}

	reservedNames = []string{"admin", "root", "system", "administrator", "teacher", "student", "管理员", "教师", "学生", "系统"}
	weakPasswords = []string{"password", "123456", "12345678", "qwerty", "abc123"}
)

// Form is the validated shape of a sign-up request.
type Form struct {
	Username string   `json:"username" validate:"required,max=50,username_chars,username_min,not_reserved"`
	Password string   `json:"password" validate:"required,min=8,has_letter,has_digit,not_weak"`
	Email    string   `json:"email" validate:"required,email"`
	Roles    []string `json:"roles" validate:"required,min=1,max=1,dive,oneof=STUDENT TEACHER"`
}

// messages maps field and tag to the text shown on the sign-up form.
var messages = map[string]map[string]string{
	"username": {
		"required":       "用户名不能为空",
		"max":            "用户名长度不能超过50个字符",
		usernameCharsTag: "用户名只能包含中文、英文、数字和下划线",
		usernameMinTag:   "英文用户名至少需要3个字符，包含中文的用户名至少需要2个字符",
		notReservedTag:   "用户名不能使用保留词",
	},
	"password": {
		"required":   "密码不能为空",
		"min":        "密码长度至少8个字符",
		hasLetterTag: "密码必须包含字母",
		hasDigitTag:  "密码必须包含数字",
		notWeakTag:   "密码过于简单，请使用更强的密码",
	},
	"email": {
		"required": "邮箱不能为空",
		"email":    "邮箱格式不正确",
	},
	"roles": {
		"required": "请选择角色",
		"min":      "请选择角色",
		"max":      "一个用户只能有一个角色",
		"oneof":    "只允许注册学生或教师角色",
	},
}

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failed field in declaration order.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// First returns the message for field, or "".
func (e *ValidationError) First(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message
		}
	}
	return ""
}

// Validator checks sign-up forms.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the sign-up rules on a fresh validator instance.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(usernameCharsTag, usernameCharsValidation)
	_ = v.RegisterValidation(usernameMinTag, usernameMinValidation)
	_ = v.RegisterValidation(notReservedTag, notReservedValidation)
	_ = v.RegisterValidation(hasLetterTag, hasLetterValidation)
	_ = v.RegisterValidation(hasDigitTag, hasDigitValidation)
	_ = v.RegisterValidation(notWeakTag, notWeakValidation)

	return &Validator{validate: v}
}

// Validate returns nil or a validation-kind error wrapping *ValidationError.
func (v *Validator) Validate(form Form) error {
	err := v.validate.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return platformerrors.Wrap(platformerrors.KindValidation, "registration.validate", "validate form", err)
	}

	out := &ValidationError{}
	for _, fe := range fieldErrs {
		field := fe.Field()
		// dive errors are reported as roles[0]
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		if out.First(field) != "" {
			continue
		}
		msg := messages[field][fe.Tag()]
		if msg == "" {
			msg = fe.Error()
		}
		out.Fields = append(out.Fields, FieldError{Field: field, Message: msg})
	}
	return platformerrors.Wrap(platformerrors.KindValidation, "registration.validate", "invalid registration form", out)
}

// Request converts a valid form into the backend request.
func (f Form) Request() session.RegisterRequest {
	return session.RegisterRequest{
		Username: f.Username,
		Password: f.Password,
		Email:    f.Email,
		Roles:    slices.Clone(f.Roles),
	}
}

// CanRegisterRole reports whether a caller holding currentRole may create an
// account with target. An empty currentRole is an anonymous visitor.
func CanRegisterRole(currentRole, target string) bool {
	if currentRole == "" {
		return slices.Contains(AllowedRoles, target)
	}
	if currentRole != session.RoleAdmin {
		return false
	}
	switch target {
	case session.RoleAdmin, session.RoleTeacher, session.RoleStudent:
		return true
	default:
		return false
	}
}

// AvailableRoles lists the roles currentRole may create.
func AvailableRoles(currentRole string) []string {
	if currentRole == "" {
		return slices.Clone(AllowedRoles)
	}
	var roles []string
	for _, r := range []string{session.RoleStudent, session.RoleTeacher, session.RoleAdmin} {
		if CanRegisterRole(currentRole, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

func isCJK(r rune) bool {
	return (r >= 0x4e00 && r <= 0x9fff) || (r >= 0x3400 && r <= 0x4dbf)
}

func usernameCharsValidation(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if isCJK(r) || r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			continue
		}
		return false
	}
	return true
}

// usernameMinValidation needs 2 characters when the name contains CJK, 3 otherwise.
func usernameMinValidation(fl validator.FieldLevel) bool {
	name := []rune(fl.Field().String())
	if slices.ContainsFunc(name, isCJK) {
		return len(name) >= 2
	}
	return len(name) >= 3
}

func notReservedValidation(fl validator.FieldLevel) bool {
	name := strings.ToLower(fl.Field().String())
	return !slices.Contains(reservedNames, name)
}

func hasLetterValidation(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), func(r rune) bool {
		return r < unicode.MaxASCII && unicode.IsLetter(r)
	}) >= 0
}

func hasDigitValidation(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), func(r rune) bool {
		return r >= '0' && r <= '9'
	}) >= 0
}

func notWeakValidation(fl validator.FieldLevel) bool {
	pw := strings.ToLower(fl.Field().String())
	for _, weak := range weakPasswords {
		if strings.Contains(pw, weak) {
			return false
		}
	}
	return true
}
