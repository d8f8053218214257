package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldNames 表单字段的展示名称
var fieldNames = map[string]string{
	"Email":           "邮箱",
	"Username":        "用户名",
	"Password":        "密码",
	"ConfirmPassword": "确认密码",
	"Title":           "标题",
	"Year":            "年份",
	"Genre":           "类型",
	"Description":     "简介",
	"Image":           "图片路径",
	"Prompt":          "描述",
	"Headline":        "新闻标题",
	"Body":            "正文",
	"Date":            "日期",
}

// validationMessage 把绑定/校验错误转换为中文提示
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "表单数据格式错误"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "；")
}

func fieldMessage(fe validator.FieldError) string {
	name, ok := fieldNames[fe.Field()]
	if !ok {
		name = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return name + "不能为空"
	case "email":
		return "邮箱格式不正确"
	case "min":
		return fmt.Sprintf("%s至少需要 %s 个字符", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s不能超过 %s 个字符", name, fe.Param())
	case "eqfield":
		return "两次输入的密码不一致"
	case "numeric", "number":
		return name + "必须是数字"
	case "datetime":
		return name + "格式应为 YYYY-MM-DD"
	case "gte", "lte":
		return name + "超出允许范围"
	default:
		return name + "不合法"
	}
}
