package service

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// RenderContext 模板可用的数据
type RenderContext struct {
	TargetUser  TemplateUser
	Source      *model.NotificationSource
	Description string
}

// TemplateUser 模板可见的用户字段，口令哈希等内部字段不暴露给模板
type TemplateUser struct {
	ID       uint
	Username string
	FullName string
	Email    string
}

func newTemplateUser(u *model.User) TemplateUser {
	return TemplateUser{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName(),
		Email:    u.Email,
	}
}

// TemplateRenderer 按 (来源, 渠道) 渲染通知内容
type TemplateRenderer interface {
	// Render 模板不存在返回 ErrTemplateMissing，解析或执行失败返回 ErrRender
	Render(ctx context.Context, typ *model.NotificationType, data RenderContext) (string, error)
}

type templateRenderer struct {
	repo *repository.Repository
}

// NewTemplateRenderer 创建 TemplateRenderer 实例
func NewTemplateRenderer(repo *repository.Repository) TemplateRenderer {
	return &templateRenderer{repo: repo}
}

func (r *templateRenderer) Render(ctx context.Context, typ *model.NotificationType, data RenderContext) (string, error) {
	tpl, err := r.repo.Template.Get(ctx, data.Source.ID, typ.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%s/%s: %w", data.Source.Value, typ.Value, pkgerrors.ErrTemplateMissing)
		}
		return "", err
	}
	return renderBody(data.Source.Value+"/"+typ.Value, tpl.Body, data)
}

func renderBody(name, body string, data interface{}) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrRender, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrRender, err)
	}
	return sb.String(), nil
}

// parseBody 只校验模板语法
func parseBody(body string) error {
	if _, err := template.New("check").Parse(body); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrRender, err)
	}
	return nil
}

// ── 固定模板 ──

var bulkBodyTemplate = template.Must(template.New("bulk").Parse(
	`<html><body><p>{{.}}</p></body></html>`,
))

var duplicateAlertTemplate = template.Must(template.New("duplicate").Parse(
	`<html><body><p>DOUBLE EMAIL FOR NOTIFY</p>` +
		`<p>source: {{.Source}}</p><p>user: {{.UserID}}</p>` +
		`<p><a href="{{.Link}}">{{.Address}}</a></p></body></html>`,
))

func bulkBody(description string) string {
	var sb strings.Builder
	_ = bulkBodyTemplate.Execute(&sb, description)
	return sb.String()
}
