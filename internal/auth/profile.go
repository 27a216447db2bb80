// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// MaxBioLength bounds the profile bio in characters.
const MaxBioLength = 500

// Theme is the UI theme preference.
type Theme string

// Themes.
const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// Preferences are user-editable settings.
type Preferences struct {
	Notifications bool  `json:"notifications"`
	Newsletter    bool  `json:"newsletter"`
	Theme         Theme `json:"theme"`
}

// DefaultPreferences returns the preferences of a new profile.
func DefaultPreferences() Preferences {
	return Preferences{Notifications: true, Newsletter: false, Theme: ThemeSystem}
}

// ProfileMetadata is maintained by the service, never by the client.
type ProfileMetadata struct {
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
	LoginCount int        `json:"loginCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Profile is the per-identity profile record.
type Profile struct {
	IdentityID  ulid.ULID       `json:"identityId"`
	Email       string          `json:"email"`
	DisplayName string          `json:"displayName"`
	Avatar      string          `json:"avatar,omitempty"`
	Bio         string          `json:"bio,omitempty"`
	Preferences Preferences     `json:"preferences"`
	Metadata    ProfileMetadata `json:"metadata"`
}

// NewProfile builds the profile created alongside an identity at signup.
func NewProfile(identity *Identity) *Profile {
	return &Profile{
		IdentityID:  identity.ID,
		Email:       identity.Email,
		DisplayName: identity.Name,
		Preferences: DefaultPreferences(),
		Metadata: ProfileMetadata{
			CreatedAt: identity.CreatedAt,
			UpdatedAt: identity.CreatedAt,
		},
	}
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged.
type ProfilePatch struct {
	DisplayName   *string `json:"displayName,omitempty"`
	Avatar        *string `json:"avatar,omitempty"`
	Bio           *string `json:"bio,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	Newsletter    *bool   `json:"newsletter,omitempty"`
	Theme         *string `json:"theme,omitempty"`
}

// Validate checks every set field without modifying anything.
func (p ProfilePatch) Validate() error {
	if p.DisplayName != nil {
		if _, err := ValidateName(*p.DisplayName); err != nil {
			return err
		}
	}
	if p.Avatar != nil && strings.TrimSpace(*p.Avatar) != "" && !isAbsoluteURL(strings.TrimSpace(*p.Avatar)) {
		return ValidationError("avatar", "Avatar must be a valid URL")
	}
	if p.Bio != nil && utf8.RuneCountInString(strings.TrimSpace(*p.Bio)) > MaxBioLength {
		return ValidationError("bio", "Bio must not exceed 500 characters")
	}
	if p.Theme != nil && !Theme(*p.Theme).Valid() {
		return ValidationError("theme", "Theme must be one of: light, dark, system")
	}
	return nil
}

// Apply validates the patch and writes it into profile.
func (p ProfilePatch) Apply(profile *Profile, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.DisplayName != nil {
		profile.DisplayName = strings.TrimSpace(*p.DisplayName)
	}
	if p.Avatar != nil {
		profile.Avatar = strings.TrimSpace(*p.Avatar)
	}
	if p.Bio != nil {
		profile.Bio = strings.TrimSpace(*p.Bio)
	}
	if p.Notifications != nil {
		profile.Preferences.Notifications = *p.Notifications
	}
	if p.Newsletter != nil {
		profile.Preferences.Newsletter = *p.Newsletter
	}
	if p.Theme != nil {
		profile.Preferences.Theme = Theme(*p.Theme)
	}
	profile.Metadata.UpdatedAt = now
	return nil
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.DisplayName == nil && p.Avatar == nil && p.Bio == nil &&
		p.Notifications == nil && p.Newsletter == nil && p.Theme == nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ProfileRepository persists profiles.
type ProfileRepository interface {
	Create(ctx context.Context, profile *Profile) error
	Get(ctx context.Context, identityID ulid.ULID) (*Profile, error)
	Update(ctx context.Context, profile *Profile) error

	// RecordLogin sets last_login and increments login_count atomically.
	RecordLogin(ctx context.Context, identityID ulid.ULID, at time.Time) error
}
