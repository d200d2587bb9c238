package mail

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/usermicrodevices/mas/config"
)

// ErrNotConfigured SMTP 未配置
var ErrNotConfigured = errors.New("SMTP 未配置")

// Sender 基于 SMTP 的邮件发送器
type Sender struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSender 创建邮件发送器
func NewSender(cfg *config.MailConfig, logger *zap.Logger) *Sender {
	var dialer *gomail.Dialer
	if cfg.SMTPHost != "" {
		dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	}
	return &Sender{dialer: dialer, from: cfg.From, logger: logger}
}

// DefaultFrom 默认发件人
func (s *Sender) DefaultFrom() string { return s.from }

// Send 发送一封 HTML 邮件，from 为空时使用默认发件人
// 每次发送单独建立连接，超时由 SMTP 连接本身控制
func (s *Sender) Send(ctx context.Context, subject, from, to, htmlBody string) error {
	if s.dialer == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.BuildMessage(subject, from, to, htmlBody)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return err
	}

	s.logger.Debug("邮件已发送", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// BuildMessage 构造邮件
func (s *Sender) BuildMessage(subject, from, to, htmlBody string) *gomail.Message {
	if from == "" {
		from = s.from
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	return msg
}
