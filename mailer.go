package main

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/template"
)

// Recipient is one roster entry. Row is the CSV line it came from.
type Recipient struct {
	Row   int
	Name  string
	Email string
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// MailerInput is a single message addressed to exactly one recipient.
type MailerInput struct {
	Recipient   Recipient
	Subject     string
	Message     string
	Attachments []Attachment
}

type Mailer interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, input MailerInput) error
	Close() error
}

// MessageTemplate holds the subject and plain-text body templates. Both are
// executed with a messageData value.
type MessageTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

const (
	defaultSubject = "Certificate of Achievement - {{.Name}}"
	defaultBody    = `Dear {{.Name}},
Thank you for participating in the event. Your certificate of participation has been attached to this email.

Regards,
{{.Organization}}`
)

func DefaultMessageTemplate() MessageTemplate {
	return MessageTemplate{Subject: defaultSubject, Body: defaultBody}
}

type messageData struct {
	Name         string
	Email        string
	Organization string
}

// Composer turns a rendered certificate into a MailerInput.
type Composer struct {
	subject      *template.Template
	body         *template.Template
	organization string
}

func NewComposer(tmpl MessageTemplate, organization string) (*Composer, error) {
	subject, err := template.New("subject").Parse(tmpl.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	body, err := template.New("body").Parse(tmpl.Body)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return &Composer{subject: subject, body: body, organization: organization}, nil
}

func (c *Composer) Compose(recipient Recipient, attachmentPath string) (MailerInput, error) {
	data := messageData{Name: recipient.Name, Email: recipient.Email, Organization: c.organization}

	var subject, body bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return MailerInput{}, fmt.Errorf("execute subject template: %w", err)
	}
	if err := c.body.Execute(&body, data); err != nil {
		return MailerInput{}, fmt.Errorf("execute body template: %w", err)
	}

	content, err := os.ReadFile(attachmentPath)
	if err != nil {
		return MailerInput{}, fmt.Errorf("read attachment: %w", err)
	}

	return MailerInput{
		Recipient: recipient,
		Subject:   subject.String(),
		Message:   body.String(),
		Attachments: []Attachment{{
			Filename:    filepath.Base(attachmentPath),
			ContentType: contentTypeOf(attachmentPath),
			Content:     content,
		}},
	}, nil
}

func contentTypeOf(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
