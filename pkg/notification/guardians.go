package notification

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"Guardian/pkg/errors"
)

// Notice is what guardians are told about an alert.
type Notice struct {
	AlertID    string
	SenderName string
	Reason     string
	Recipients []string
	Lat, Lng   *float64
	Resolved   bool
}

func (n Notice) title() string {
	if n.Resolved {
		return n.SenderName + " is safe"
	}
	return "SOS from " + n.SenderName
}

func (n Notice) content() string {
	if n.Resolved {
		return n.SenderName + " has marked the alert as resolved."
	}
	if n.Lat != nil && n.Lng != nil {
		return fmt.Sprintf("%s (%.5f, %.5f)", n.Reason, *n.Lat, *n.Lng)
	}
	return n.Reason + " (location unavailable)"
}

// Guardians forwards alert lifecycle events to out-of-app channels.
// Phone-number recipients go by SMS, every other address by push alias.
// A nil client makes its channel a no-op.
type Guardians struct {
	push *JPush
	sms  *AliyunSMS
	log  *zap.Logger
}

func NewGuardians(push *JPush, sms *AliyunSMS, log *zap.Logger) *Guardians {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guardians{push: push, sms: sms, log: log}
}

// Enabled reports whether any channel is configured.
func (g *Guardians) Enabled() bool {
	return g != nil && (g.push.configured() || g.sms.configured())
}

func (g *Guardians) Notify(ctx context.Context, n Notice) error {
	if !g.Enabled() {
		return nil
	}
	var phones, aliases []string
	for _, r := range n.Recipients {
		if isPhone(r) {
			phones = append(phones, r)
		} else if r != "" {
			aliases = append(aliases, r)
		}
	}

	var errs []error
	if len(aliases) > 0 && g.push.configured() {
		extras := map[string]interface{}{"alertId": n.AlertID, "resolved": n.Resolved}
		if err := g.push.PushToAlias(ctx, aliases, n.title(), n.content(), extras); err != nil {
			errs = append(errs, errors.Wrap(err, "push guardians"))
		}
	}
	if g.sms.configured() {
		params := map[string]string{"name": n.SenderName, "alert": n.AlertID, "detail": n.content()}
		for _, phone := range phones {
			if err := g.sms.send(ctx, phone, n.Resolved, params); err != nil {
				errs = append(errs, errors.Wrap(err, "sms guardian").WithContext("phone", phone))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		g.log.Warn("guardian notification incomplete", zap.String("alert", n.AlertID), zap.Error(err))
		return err
	}
	return nil
}

func isPhone(addr string) bool {
	addr = strings.TrimPrefix(strings.TrimSpace(addr), "+")
	if len(addr) < 6 {
		return false
	}
	for _, r := range addr {
		if !unicode.IsDigit(r) && r != '-' && r != ' ' {
			return false
		}
	}
	return true
}
