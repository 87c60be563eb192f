package notification

import (
	"context"

	"Guardian/pkg/errors"
)

// ErrNotConfigured 表示未注入客户端
var ErrNotConfigured = errors.New("notification client not configured")

type JPushConfig struct {
	AppKey       string
	MasterSecret string
}

// JPushClient 便于替换/注入的推送接口（适配真实 SDK）
type JPushClient interface {
	Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error
}

type JPush struct {
	cfg JPushConfig
	cli JPushClient
}

func NewJPush(cfg JPushConfig, cli JPushClient) *JPush { return &JPush{cfg: cfg, cli: cli} }

func (j *JPush) configured() bool { return j != nil && j.cli != nil }

func (j *JPush) PushToAlias(ctx context.Context, alias []string, title, content string, extras map[string]interface{}) error {
	if !j.configured() {
		return ErrNotConfigured
	}
	aud := map[string]interface{}{"alias": alias}
	return j.cli.Push(ctx, title, content, aud, extras)
}
