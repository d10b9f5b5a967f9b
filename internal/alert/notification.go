// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package alert renders fire alerts and hands them to a delivery transport.
package alert

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

var (
	// ErrNotPositive rejects dispatch of anything but a positive verdict.
	ErrNotPositive = errors.New("alert requires a positive verdict")
	// ErrNoEvidence rejects alerts without an evidence attachment.
	ErrNoEvidence = errors.New("alert requires evidence")
)

// Alert is the dispatcher input.
type Alert struct {
	RequestID  string
	Mode       model.Mode
	Verdict    model.Verdict
	Evidence   string // path of the evidence image
	Source     string
	DetectedAt time.Time
}

// Validate checks the dispatch preconditions.
func (a Alert) Validate() error {
	if a.Verdict != model.VerdictPositive {
		return ErrNotPositive
	}
	if a.Evidence == "" {
		return ErrNoEvidence
	}
	return nil
}

// Notification is a rendered, transport-agnostic message.
type Notification struct {
	From           string
	FromName       string
	Recipients     []string
	Subject        string
	Body           string
	Attachment     string
	AttachmentName string
	Source         string
	RequestID      string
}

// RenderConfig holds message templates and addressing.
type RenderConfig struct {
	From            string
	FromName        string
	Recipients      []string
	SubjectTemplate string
	BodyTemplate    string
	Location        *time.Location
}

// Renderer turns Alerts into Notifications.
type Renderer struct {
	cfg     RenderConfig
	subject *template.Template
	body    *template.Template
}

// NewRenderer parses the templates once.
func NewRenderer(cfg RenderConfig) (*Renderer, error) {
	subject, err := template.New("subject").Option("missingkey=error").Parse(cfg.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("subject template: %w", err)
	}
	body, err := template.New("body").Option("missingkey=error").Parse(cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("body template: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Renderer{cfg: cfg, subject: subject, body: body}, nil
}

// Render executes the templates for a.
func (r *Renderer) Render(a Alert) (Notification, error) {
	if err := a.Validate(); err != nil {
		return Notification{}, err
	}
	if a.Source == "" {
		a.Source = model.UnknownSource
	}
	a.DetectedAt = a.DetectedAt.In(r.cfg.Location)

	var subj, body bytes.Buffer
	if err := r.subject.Execute(&subj, a); err != nil {
		return Notification{}, fmt.Errorf("render subject: %w", err)
	}
	if err := r.body.Execute(&body, a); err != nil {
		return Notification{}, fmt.Errorf("render body: %w", err)
	}
	return Notification{
		From:       r.cfg.From,
		FromName:   r.cfg.FromName,
		Recipients: append([]string(nil), r.cfg.Recipients...),
		// Header injection guard: subjects are single-line.
		Subject:        strings.Join(strings.Fields(subj.String()), " "),
		Body:           body.String(),
		Attachment:     a.Evidence,
		AttachmentName: "fire_" + a.RequestID + ".jpg",
		Source:         a.Source,
		RequestID:      a.RequestID,
	}, nil
}
