package models

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Guardian/internal/alert"
	"Guardian/internal/channel"
	"Guardian/pkg/errors"
)

// Contact 紧急联系人（监护人）
type Contact struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	DisplayName      string    `json:"displayName" gorm:"size:128"`
	Address          string    `json:"address" gorm:"size:255;uniqueIndex"` // 归一化后的地址
	IsRegisteredUser bool      `json:"isRegisteredUser"`
	CreatedAt        time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// Profile 本机用户资料，只有一行
type Profile struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	SenderAddress string    `json:"senderAddress" gorm:"size:255"`
	SenderName    string    `json:"senderName" gorm:"size:128"`
	TriggerPhrase string    `json:"triggerPhrase" gorm:"size:255"`
	UpdatedAt     time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

const profileID = 1

// SettingsStore keeps the profile and contact list in the database and serves alert.Settings snapshots.
type SettingsStore struct {
	db *gorm.DB
}

func NewSettingsStore(db *gorm.DB) (*SettingsStore, error) {
	if err := db.AutoMigrate(&Contact{}, &Profile{}); err != nil {
		return nil, errors.Wrap(err, "migrate settings")
	}
	return &SettingsStore{db: db}, nil
}

// Snapshot implements alert.SettingsSource.
func (s *SettingsStore) Snapshot(ctx context.Context) (alert.Settings, error) {
	p, err := s.Profile(ctx)
	if err != nil {
		return alert.Settings{}, err
	}
	contacts, err := s.ListContacts(ctx)
	if err != nil {
		return alert.Settings{}, err
	}
	out := alert.Settings{
		SenderAddress: p.SenderAddress,
		SenderName:    p.SenderName,
		TriggerPhrase: p.TriggerPhrase,
		Recipients:    make([]alert.Contact, 0, len(contacts)),
	}
	for _, c := range contacts {
		out.Recipients = append(out.Recipients, c.toAlert())
	}
	return out, nil
}

func (c Contact) toAlert() alert.Contact {
	return alert.Contact{
		ID:               cast.ToString(c.ID),
		DisplayName:      c.DisplayName,
		Address:          c.Address,
		IsRegisteredUser: c.IsRegisteredUser,
	}
}

// Profile returns the stored profile; a missing row is an empty profile.
func (s *SettingsStore) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).Where("id = ?", profileID).Limit(1).Find(&p).Error
	if err != nil {
		return Profile{}, errors.Wrap(err, "load profile")
	}
	return p, nil
}

func (s *SettingsStore) SaveProfile(ctx context.Context, p Profile) (Profile, error) {
	p.ID = profileID
	p.SenderAddress = channel.Normalize(p.SenderAddress)
	p.SenderName = strings.TrimSpace(p.SenderName)
	p.TriggerPhrase = strings.TrimSpace(p.TriggerPhrase)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&p).Error
	if err != nil {
		return Profile{}, errors.Wrap(err, "save profile")
	}
	return p, nil
}

// SeedProfile fills the profile only where it is still empty.
func (s *SettingsStore) SeedProfile(ctx context.Context, p Profile) error {
	cur, err := s.Profile(ctx)
	if err != nil {
		return err
	}
	if cur.SenderAddress == "" {
		cur.SenderAddress = p.SenderAddress
	}
	if cur.SenderName == "" {
		cur.SenderName = p.SenderName
	}
	if cur.TriggerPhrase == "" {
		cur.TriggerPhrase = p.TriggerPhrase
	}
	_, err = s.SaveProfile(ctx, cur)
	return err
}

func (s *SettingsStore) ListContacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list contacts")
	}
	return out, nil
}

// AddContact inserts a contact or updates the one with the same normalized address.
func (s *SettingsStore) AddContact(ctx context.Context, c Contact) (Contact, error) {
	c.Address = channel.Normalize(c.Address)
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	if c.Address == "" {
		return Contact{}, errors.WithCode(errors.CodeInvalidRecord, "contact address is required")
	}
	var existing Contact
	db := s.db.WithContext(ctx)
	err := db.Where("address = ?", c.Address).Limit(1).Find(&existing).Error
	if err != nil {
		return Contact{}, errors.Wrap(err, "find contact")
	}
	if existing.ID != 0 {
		existing.DisplayName = c.DisplayName
		existing.IsRegisteredUser = c.IsRegisteredUser
		if err := db.Save(&existing).Error; err != nil {
			return Contact{}, errors.Wrap(err, "update contact")
		}
		return existing, nil
	}
	c.ID = 0
	if err := db.Create(&c).Error; err != nil {
		return Contact{}, errors.Wrap(err, "create contact")
	}
	return c, nil
}

// RemoveContact reports whether a row was deleted.
func (s *SettingsStore) RemoveContact(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&Contact{}, id)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "delete contact")
	}
	return res.RowsAffected > 0, nil
}
