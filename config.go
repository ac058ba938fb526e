package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Credentials is the mail account used for the whole batch. The file may be
// JSON or YAML; every key can be overridden from the environment.
type Credentials struct {
	Email              string `yaml:"email" env:"CERTMAILER_EMAIL" validate:"required,email"`
	AppPassword        string `yaml:"app_password" env:"CERTMAILER_APP_PASSWORD" validate:"required"`
	SMTPServer         string `yaml:"smtp_server" env:"CERTMAILER_SMTP_SERVER" validate:"required,hostname_rfc1123|ip"`
	SMTPPort           int    `yaml:"smtp_port" env:"CERTMAILER_SMTP_PORT" validate:"required,min=1,max=65535"`
	Username           string `yaml:"username" env:"CERTMAILER_USERNAME"`
	SenderName         string `yaml:"sender_name" env:"CERTMAILER_SENDER_NAME"`
	SMTPCrypto         string `yaml:"smtp_crypto" env:"CERTMAILER_SMTP_CRYPTO" validate:"omitempty,oneof=tls starttls ssl none plain"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"CERTMAILER_INSECURE_SKIP_VERIFY"`
	Organization       string `yaml:"organization" env:"CERTMAILER_ORGANIZATION"`
}

// Login is the SMTP username, which defaults to the sender address.
func (c Credentials) Login() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Email
}

// Settings tunes the certificate layout and the message text.
type Settings struct {
	Layout  Layout          `yaml:"layout"`
	Message MessageTemplate `yaml:"message"`
}

func DefaultSettings() Settings {
	return Settings{
		Layout:  DefaultLayout(),
		Message: DefaultMessageTemplate(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials

	b, err := os.ReadFile(path)
	if err != nil {
		return creds, &ConfigError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(b, &creds); err != nil {
		return creds, &ConfigError{Path: path, Err: fmt.Errorf("failed to parse credentials file: %w", err)}
	}
	if err := env.Parse(&creds); err != nil {
		return creds, &ConfigError{Path: path, Err: fmt.Errorf("parse env: %w", err)}
	}
	if err := validateStruct(creds); err != nil {
		return creds, &ConfigError{Path: path, Err: err}
	}
	return creds, nil
}

// LoadSettings returns the defaults overlaid with the file at path. An empty
// path means defaults only.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return settings, &ConfigError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return settings, &ConfigError{Path: path, Err: fmt.Errorf("failed to parse settings file: %w", err)}
	}
	if err := validateStruct(settings); err != nil {
		return settings, &ConfigError{Path: path, Err: err}
	}
	return settings, nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
