// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ProfileView pairs an identity with its profile.
type ProfileView struct {
	User    UserView `json:"user"`
	Profile *Profile `json:"profile"`
}

// GetProfile returns the identity and profile. A profile lost at signup is
// recreated from the identity.
func (s *Service) GetProfile(ctx context.Context, identityID ulid.ULID) (*ProfileView, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil, ClientError(CodeNotFound, MsgProfileNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_GET_FAILED").With("identity_id", identityID.String()).Wrap(err)
	}

	profile, err := s.loadProfile(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &ProfileView{User: identity.View(), Profile: profile}, nil
}

// UpdateProfile applies a validated partial update to the profile.
func (s *Service) UpdateProfile(ctx context.Context, identityID ulid.ULID, patch ProfilePatch) (*ProfileView, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	identity, err := s.identities.GetByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil, ClientError(CodeNotFound, MsgProfileNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_UPDATE_FAILED").With("identity_id", identityID.String()).Wrap(err)
	}

	profile, err := s.loadProfile(ctx, identity)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return &ProfileView{User: identity.View(), Profile: profile}, nil
	}

	if err := patch.Apply(profile, s.now()); err != nil {
		return nil, err
	}
	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, oops.Code("PROFILE_UPDATE_FAILED").With("identity_id", identityID.String()).Wrap(err)
	}
	s.event("profile_update", "success")
	return &ProfileView{User: identity.View(), Profile: profile}, nil
}

func (s *Service) loadProfile(ctx context.Context, identity *Identity) (*Profile, error) {
	profile, err := s.profiles.Get(ctx, identity.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("PROFILE_GET_FAILED").With("identity_id", identity.ID.String()).Wrap(err)
	}

	profile = NewProfile(identity)
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, oops.Code("PROFILE_CREATE_FAILED").With("identity_id", identity.ID.String()).Wrap(err)
	}
	return profile, nil
}
