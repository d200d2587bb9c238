package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/config"
)

// ErrDisabled 未配置推送网关
var ErrDisabled = errors.New("推送网关未配置")

// Client 推送网关客户端
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// Message 推送网关请求体
type Message struct {
	UserID uint   `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// NewClient 创建推送客户端，GatewayURL 为空时返回禁用状态的客户端
func NewClient(cfg *config.PushConfig, logger *zap.Logger) *Client {
	if cfg.GatewayURL == "" {
		return &Client{logger: logger}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: client, logger: logger}
}

// Push 向指定用户的设备发送推送
func (c *Client) Push(ctx context.Context, userID uint, title, body string) error {
	if c.http == nil {
		return ErrDisabled
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(Message{UserID: userID, Title: title, Body: body}).
		Post("/push")
	if err != nil {
		return fmt.Errorf("调用推送网关失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("推送网关返回错误状态 %d", resp.StatusCode())
	}

	c.logger.Debug("推送已发送", zap.Uint("user_id", userID), zap.String("title", title))
	return nil
}
