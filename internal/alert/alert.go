// Package alert drives an emergency from trigger to resolution: it resolves a
// location, records the alert, fans the first pin out to every guardian and
// streams watch fixes into the alert channel until the user is safe.
package alert

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"Guardian/internal/channel"
	"Guardian/internal/geo"
	"Guardian/pkg/errors"
)

var (
	ErrNoRecipients    = errors.Sentinel(errors.CodeNoRecipients, "no guardians configured")
	ErrTriggerInFlight = errors.Sentinel(errors.CodeTriggerInFlight, "a trigger is already being processed")
	ErrAlertNotFound   = errors.Sentinel(errors.CodeAlertNotFound, "alert not found")
	ErrAlertResolved   = errors.Sentinel(errors.CodeAlertResolved, "alert already resolved")
)

// Source is what raised the alert.
type Source string

const (
	SourceManual Source = "manual"
	SourceVoice  Source = "voice"
	SourceTimer  Source = "timer"
)

// Alert 告警记录。创建后只有 LastLocation、IsLive、ResolvedAt 会变化
type Alert struct {
	ID            string          `json:"id"`
	SenderAddress string          `json:"senderAddress"`
	SenderName    string          `json:"senderName"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastLocation  *geo.Coordinate `json:"lastLocation"`
	Reason        string          `json:"reason"`
	IsLive        bool            `json:"isLive"`
	Recipients    []string        `json:"recipients"`

	Source     Source     `json:"source"`
	Channel    string     `json:"channel"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

func (a *Alert) clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	if a.LastLocation != nil {
		loc := *a.LastLocation
		c.LastLocation = &loc
	}
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		c.ResolvedAt = &at
	}
	c.Recipients = slices.Clone(a.Recipients)
	return &c
}

// Involves reports whether address is the sender or one of the guardians.
func (a *Alert) Involves(address string) bool {
	n := channel.Normalize(address)
	return n == channel.Normalize(a.SenderAddress) || slices.Contains(a.Recipients, n)
}

var alertNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// ID derives the alert id from sender and creation time. Two creations map to
// the same alert only when their timestamps are identical; retries of an HTTP
// trigger are collapsed earlier by the Idempotency-Key replay.
func ID(senderAddress string, createdAt time.Time) string {
	key := channel.Normalize(senderAddress) + "|" + strconv.FormatInt(createdAt.UnixNano(), 10)
	return uuid.NewSHA1(alertNamespace, []byte(key)).String()
}

// Phase of the lifecycle. Resolved is terminal for an alert; a new trigger starts a new alert.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseResolved Phase = "resolved"
)

// Detection is the voice trigger status shown next to the alert.
type Detection struct {
	Armed  bool   `json:"armed"`
	Phrase string `json:"phrase,omitempty"`
	Error  string `json:"error,omitempty"`
}

// State is the change notification delivered to watchers.
type State struct {
	Phase      Phase      `json:"phase"`
	Alert      *Alert     `json:"alert,omitempty"`
	Detection  Detection  `json:"detection"`
	CheckInDue *time.Time `json:"checkInDue,omitempty"`
	// Warning tells the user the alert went out without a location or with a stale one.
	Warning string `json:"warning,omitempty"`
}

// Contact is a guardian entry from settings.
type Contact struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	Address          string `json:"address"`
	IsRegisteredUser bool   `json:"isRegisteredUser"`
}

// Settings is the read-only snapshot taken at trigger time.
type Settings struct {
	SenderAddress string    `json:"senderAddress"`
	SenderName    string    `json:"senderName"`
	TriggerPhrase string    `json:"triggerPhrase"`
	Recipients    []Contact `json:"recipients"`
}

// recipientAddresses returns normalized, de-duplicated guardian addresses without the sender.
func (s Settings) recipientAddresses() []string {
	self := channel.Normalize(s.SenderAddress)
	out := make([]string, 0, len(s.Recipients))
	for _, c := range s.Recipients {
		a := channel.Normalize(c.Address)
		if a == "" || a == self || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func displayReason(source Source, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason != "" {
		return reason
	}
	switch source {
	case SourceVoice:
		return "voice trigger"
	case SourceTimer:
		return "check-in missed"
	}
	return "panic button"
}
