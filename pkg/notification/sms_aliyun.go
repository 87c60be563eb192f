package notification

import (
	"context"
)

type AliyunSMSConfig struct {
	AccessKeyId     string
	AccessKeySecret string
	SignName        string
	TemplateCode    string // 警报模板
	ResolvedCode    string // 解除模板，为空时复用 TemplateCode
	Endpoint        string // 默认 cn-hangzhou
}

type AliyunSMS struct {
	cfg AliyunSMSConfig
	cli AliyunSMSClient
}

// AliyunSMSClient 便于替换/注入的发送接口（适配真实 SDK）
type AliyunSMSClient interface {
	Send(ctx context.Context, phone, sign, template string, params map[string]string) error
}

func NewAliyunSMS(cfg AliyunSMSConfig, cli AliyunSMSClient) *AliyunSMS {
	return &AliyunSMS{cfg: cfg, cli: cli}
}

func (a *AliyunSMS) configured() bool { return a != nil && a.cli != nil }

func (a *AliyunSMS) send(ctx context.Context, phone string, resolved bool, params map[string]string) error {
	if !a.configured() {
		return ErrNotConfigured
	}
	tpl := a.cfg.TemplateCode
	if resolved && a.cfg.ResolvedCode != "" {
		tpl = a.cfg.ResolvedCode
	}
	return a.cli.Send(ctx, phone, a.cfg.SignName, tpl, params)
}
