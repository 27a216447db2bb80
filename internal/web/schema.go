// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
)

// SchemaBaseID prefixes the $id of every request schema.
const SchemaBaseID = "https://gatehouse.dev/schemas/"

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes int64 = 64 << 10

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Email    string `json:"email" jsonschema:"required,maxLength=254"`
	Password string `json:"password" jsonschema:"required,maxLength=128"`
	Name     string `json:"name" jsonschema:"required,maxLength=200"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email      string `json:"email" jsonschema:"required,maxLength=254"`
	Password   string `json:"password" jsonschema:"required,maxLength=128"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

// ForgotPasswordRequest is the body of POST /auth/forgot-password.
type ForgotPasswordRequest struct {
	Email      string `json:"email" jsonschema:"required,maxLength=254"`
	RedirectTo string `json:"redirectTo,omitempty" jsonschema:"maxLength=2048"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token" jsonschema:"required,maxLength=256"`
	NewPassword string `json:"newPassword" jsonschema:"required,maxLength=128"`
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword     string `json:"currentPassword" jsonschema:"required,maxLength=128"`
	NewPassword         string `json:"newPassword" jsonschema:"required,maxLength=128"`
	RevokeOtherSessions *bool  `json:"revokeOtherSessions,omitempty"`
}

// SendVerificationRequest is the body of POST /auth/send-verification-email.
type SendVerificationRequest struct {
	Email       string `json:"email" jsonschema:"required,maxLength=254"`
	CallbackURL string `json:"callbackURL,omitempty" jsonschema:"maxLength=2048"`
}

// UpdateProfileRequest is the body of PATCH /auth/profile.
type UpdateProfileRequest struct {
	DisplayName   *string `json:"displayName,omitempty" jsonschema:"maxLength=200"`
	Avatar        *string `json:"avatar,omitempty" jsonschema:"maxLength=2048"`
	Bio           *string `json:"bio,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	Newsletter    *bool   `json:"newsletter,omitempty"`
	Theme         *string `json:"theme,omitempty" jsonschema:"enum=light,enum=dark,enum=system"`
}

func (r UpdateProfileRequest) patch() auth.ProfilePatch {
	return auth.ProfilePatch{
		DisplayName:   r.DisplayName,
		Avatar:        r.Avatar,
		Bio:           r.Bio,
		Notifications: r.Notifications,
		Newsletter:    r.Newsletter,
		Theme:         r.Theme,
	}
}

// requestTypes names every request body schema.
var requestTypes = map[string]any{
	"signup":                  &SignupRequest{},
	"login":                   &LoginRequest{},
	"forgot-password":         &ForgotPasswordRequest{},
	"reset-password":          &ResetPasswordRequest{},
	"change-password":         &ChangePasswordRequest{},
	"send-verification-email": &SendVerificationRequest{},
	"update-profile":          &UpdateProfileRequest{},
}

// SchemaNames returns the request schema names in sorted order.
func SchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for name := range requestTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSchema reflects the JSON Schema of the named request body.
// Unknown properties are allowed so clients may send extra fields.
func GenerateSchema(name string) ([]byte, error) {
	v, ok := requestTypes[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("no request schema named %q", name)
	}
	r := jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(SchemaBaseID + name + ".schema.json")
	schema.Title = "Gatehouse " + name + " request"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").With("name", name).Wrap(err)
	}
	return data, nil
}

// validator checks request bodies against the compiled schemas before they
// are decoded into request structs.
type validator struct {
	schemas  map[string]*jschema.Schema
	maxBytes int64
}

func newValidator(maxBytes int64) (*validator, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	c := jschema.NewCompiler()
	v := &validator{schemas: make(map[string]*jschema.Schema, len(requestTypes)), maxBytes: maxBytes}
	for _, name := range SchemaNames() {
		raw, err := GenerateSchema(name)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		url := SchemaBaseID + name + ".schema.json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// decode reads the body of r, validates it against the named schema and
// unmarshals it into dst. Every failure is a VALIDATION_FAILED error.
func (v *validator) decode(w http.ResponseWriter, r *http.Request, name string, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, v.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return auth.ValidationError("body", "Request body is too large")
		}
		return auth.ValidationError("body", "Request body could not be read")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return auth.ValidationError("body", "Request body is required")
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return auth.ValidationError("body", "Request body must be valid JSON")
	}
	if err := v.schemas[name].Validate(doc); err != nil {
		return schemaError(err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return auth.ValidationError("body", "Request body has the wrong shape")
	}
	return nil
}

// schemaError turns the first leaf of a schema validation failure into a
// client-safe validation error naming the field.
func schemaError(err error) error {
	var ve *jschema.ValidationError
	if !errors.As(err, &ve) {
		return auth.ValidationError("body", "Invalid request body")
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	field := strings.Join(ve.InstanceLocation, ".")
	if k, ok := ve.ErrorKind.(*kind.Required); ok && len(k.Missing) > 0 {
		field = strings.TrimPrefix(field+"."+k.Missing[0], ".")
		return auth.ValidationError(field, field+" is required")
	}
	if field == "" {
		field = "body"
	}
	switch k := ve.ErrorKind.(type) {
	case *kind.Type:
		return auth.ValidationError(field, field+" must be of type "+strings.Join(k.Want, " or "))
	case *kind.MaxLength:
		return auth.ValidationError(field, field+" is too long")
	case *kind.Enum:
		return auth.ValidationError(field, field+" is not an allowed value")
	}
	return auth.ValidationError(field, "Invalid value for "+field)
}
