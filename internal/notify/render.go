// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// DefaultAppName brands outgoing mail when none is configured.
const DefaultAppName = "Gatehouse"

// RendererConfig configures message rendering.
type RendererConfig struct {
	AppName         string
	ResetTTL        time.Duration
	VerificationTTL time.Duration
}

type kindTemplates struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// Renderer turns notifications into mail messages using the embedded
// templates.
type Renderer struct {
	cfg   RendererConfig
	kinds map[auth.NotificationKind]kindTemplates
}

// templateData is the view passed to every template.
type templateData struct {
	AppName   string
	Name      string
	Link      string
	ExpiresIn string
}

// NewRenderer parses all templates up front so a broken template fails at
// startup rather than on first send.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = auth.DefaultResetTokenTTL
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = auth.DefaultVerificationTokenTTL
	}

	subjects := map[auth.NotificationKind]string{
		auth.NotifyVerifyEmail:     "Verify your email address",
		auth.NotifyResetPassword:   "Reset your password",
		auth.NotifyPasswordChanged: "Your Password Has Been Changed",
		auth.NotifyWelcome:         fmt.Sprintf("Welcome to %s!", cfg.AppName),
	}

	r := &Renderer{cfg: cfg, kinds: make(map[auth.NotificationKind]kindTemplates, len(subjects))}
	for kind, subject := range subjects {
		html, err := htmltemplate.ParseFS(templatesFS, "templates/layout.html.tmpl", "templates/"+string(kind)+".html.tmpl")
		if err != nil {
			return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").With("kind", string(kind)).Wrap(err)
		}
		text, err := texttemplate.ParseFS(templatesFS, "templates/"+string(kind)+".txt.tmpl")
		if err != nil {
			return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").With("kind", string(kind)).Wrap(err)
		}
		r.kinds[kind] = kindTemplates{subject: subject, html: html, text: text}
	}
	return r, nil
}

// Render builds the message for n.
func (r *Renderer) Render(n auth.Notification) (Message, error) {
	tpl, ok := r.kinds[n.Kind]
	if !ok {
		return Message{}, oops.Code("NOTIFY_UNKNOWN_KIND").With("kind", string(n.Kind)).Errorf("no template for notification kind")
	}

	data := templateData{AppName: r.cfg.AppName, Name: n.Name, Link: n.Link}
	switch n.Kind {
	case auth.NotifyResetPassword:
		data.ExpiresIn = humanizeTTL(r.cfg.ResetTTL)
	case auth.NotifyVerifyEmail:
		data.ExpiresIn = humanizeTTL(r.cfg.VerificationTTL)
	}

	var html, text bytes.Buffer
	if err := tpl.html.ExecuteTemplate(&html, "layout", data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", string(n.Kind)).Wrap(err)
	}
	if err := tpl.text.Execute(&text, data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", string(n.Kind)).Wrap(err)
	}

	return Message{To: n.To, Subject: tpl.subject, HTML: html.String(), Text: text.String()}, nil
}

// humanizeTTL renders whole hours or minutes, e.g. "1 hour", "24 hours",
// "30 minutes".
func humanizeTTL(d time.Duration) string {
	unit, n := "minute", int(d/time.Minute)
	if d >= time.Hour && d%time.Hour == 0 {
		unit, n = "hour", int(d/time.Hour)
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
