// Package updatelog is the ordered, append-only record log of a channel.
// Push and poll backends deliver the same full, sorted record set.
package updatelog

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"Guardian/internal/geo"
	"Guardian/pkg/errors"
)

type Kind string

const (
	KindText        Kind = "text"
	KindLocationPin Kind = "location_pin"
)

// Pin is the payload of a location_pin record.
type Pin struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Record is one entry of a channel log. Text is set only for KindText and Pin only for KindLocationPin.
type Record struct {
	ID            string    `json:"id"`
	SenderAddress string    `json:"senderAddress"`
	SenderName    string    `json:"senderName"`
	Kind          Kind      `json:"kind"`
	Text          string    `json:"text,omitempty"`
	Pin           *Pin      `json:"pin,omitempty"`
	PostedAt      time.Time `json:"postedAt"`
}

var recordNamespace = uuid.MustParse("8f5b6f0e-3c1a-5d0b-9a57-2f4d6e1c7a90")

func NewText(senderAddress, senderName, text string, postedAt time.Time) Record {
	r := Record{
		SenderAddress: senderAddress,
		SenderName:    senderName,
		Kind:          KindText,
		Text:          text,
		PostedAt:      postedAt.UTC(),
	}
	r.ID = ContentID(r)
	return r
}

func NewLocationPin(senderAddress, senderName string, c geo.Coordinate, postedAt time.Time) Record {
	r := Record{
		SenderAddress: senderAddress,
		SenderName:    senderName,
		Kind:          KindLocationPin,
		Pin:           &Pin{Lat: c.Lat, Lng: c.Lng, Accuracy: c.Accuracy},
		PostedAt:      postedAt.UTC(),
	}
	r.ID = ContentID(r)
	return r
}

// ContentID derives a stable id from the record's content so a retried append
// produces the same id and readers can drop the duplicate.
func ContentID(r Record) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(r.SenderAddress))
	b.WriteByte('|')
	b.WriteString(string(r.Kind))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.PostedAt.UnixNano(), 10))
	b.WriteByte('|')
	switch r.Kind {
	case KindText:
		b.WriteString(r.Text)
	case KindLocationPin:
		if r.Pin != nil {
			b.WriteString(strconv.FormatFloat(r.Pin.Lat, 'f', -1, 64))
			b.WriteByte(',')
			b.WriteString(strconv.FormatFloat(r.Pin.Lng, 'f', -1, 64))
		}
	}
	return uuid.NewSHA1(recordNamespace, []byte(b.String())).String()
}

// Validate checks the tagged variant.
func (r Record) Validate() error {
	if r.SenderAddress == "" {
		return errors.WithCode(errors.CodeInvalidRecord, "record has no sender")
	}
	if r.PostedAt.IsZero() {
		return errors.WithCode(errors.CodeInvalidRecord, "record has no postedAt")
	}
	switch r.Kind {
	case KindText:
		if strings.TrimSpace(r.Text) == "" {
			return errors.WithCode(errors.CodeInvalidRecord, "text record is empty")
		}
		if r.Pin != nil {
			return errors.WithCode(errors.CodeInvalidRecord, "text record carries a pin")
		}
	case KindLocationPin:
		if r.Pin == nil {
			return errors.WithCode(errors.CodeInvalidRecord, "location pin record has no pin")
		}
		if r.Text != "" {
			return errors.WithCode(errors.CodeInvalidRecord, "location pin record carries text")
		}
		c := geo.Coordinate{Lat: r.Pin.Lat, Lng: r.Pin.Lng, Accuracy: r.Pin.Accuracy, CapturedAt: r.PostedAt}
		if !c.Valid() {
			return errors.WithCode(errors.CodeInvalidRecord, "location pin out of range")
		}
	default:
		return errors.WithCodef(errors.CodeInvalidRecord, "unknown record kind %q", r.Kind)
	}
	return nil
}

// Compare orders by (PostedAt, ID).
func Compare(a, b Record) int {
	if c := a.PostedAt.Compare(b.PostedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Sort returns records ordered by (PostedAt, ID) with duplicate ids removed.
// Arrival order never matters.
func Sort(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	slices.SortFunc(out, Compare)
	return out
}
