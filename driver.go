package main

import (
	"context"
	"fmt"
	"io"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Status string

const (
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusRendered Status = "rendered"
)

// DeliveryResult is the outcome for one recipient. Err is set when Status is
// StatusFailed.
type DeliveryResult struct {
	Recipient Recipient
	Path      string
	Status    Status
	Err       error
}

type Summary struct {
	RunID   string
	Results []DeliveryResult
	Skipped []*RowError
	// Aborted is the fatal error that stopped the batch, if any.
	Aborted error
}

func (s *Summary) count(status Status) int {
	return lo.CountBy(s.Results, func(r DeliveryResult) bool { return r.Status == status })
}

func (s *Summary) Sent() int     { return s.count(StatusSent) }
func (s *Summary) Failed() int   { return s.count(StatusFailed) }
func (s *Summary) Rendered() int { return s.count(StatusRendered) }

func (s *Summary) String() string {
	line := fmt.Sprintf("%d sent, %d failed, %d skipped", s.Sent(), s.Failed(), len(s.Skipped))
	if n := s.Rendered(); n > 0 {
		line = fmt.Sprintf("%d rendered (dry run), %s", n, line)
	}
	return line
}

// Report writes the summary and one line per failure.
func (s *Summary) Report(w io.Writer) {
	fmt.Fprintln(w, "--- Summary ---")
	fmt.Fprintf(w, "Total attempted: %d\n", len(s.Results))
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			fmt.Fprintf(w, "  failed: row %d %s <%s>: %v\n", r.Recipient.Row, r.Recipient.Name, r.Recipient.Email, r.Err)
		}
	}
	for _, e := range s.Skipped {
		fmt.Fprintf(w, "  skipped: %v\n", e)
	}
	if s.Aborted != nil {
		fmt.Fprintf(w, "Aborted: %v\n", s.Aborted)
	}
	fmt.Fprintln(w, s.String())
}

type CertificateRenderer interface {
	Render(recipient Recipient) (string, error)
}

// Driver runs the render-and-send loop. A nil mailer renders without sending.
type Driver struct {
	runID    string
	renderer CertificateRenderer
	composer *Composer
	mailer   Mailer
	logger   *zap.Logger
}

func NewDriver(runID string, renderer CertificateRenderer, composer *Composer, mailer Mailer, logger *zap.Logger) *Driver {
	return &Driver{
		runID:    runID,
		renderer: renderer,
		composer: composer,
		mailer:   mailer,
		logger:   logger,
	}
}

// Run processes the roster in order. It returns an error only when the batch
// was aborted; per-recipient failures are recorded in the summary.
func (d *Driver) Run(ctx context.Context, roster *Roster) (*Summary, error) {
	summary := &Summary{RunID: d.runID, Skipped: roster.Skipped}

	if d.mailer != nil {
		if err := d.mailer.Open(ctx); err != nil {
			d.logger.Error("cannot open mail session", zap.Error(err))
			summary.Aborted = err
			return summary, err
		}
		defer func() {
			if err := d.mailer.Close(); err != nil {
				d.logger.Warn("closing mail session", zap.Error(err))
			}
		}()
	}

	total := len(roster.Recipients)
	for i, recipient := range roster.Recipients {
		if err := ctx.Err(); err != nil {
			summary.Aborted = err
			return summary, err
		}

		log := d.logger.With(
			zap.Int("row", recipient.Row),
			zap.String("name", recipient.Name),
			zap.String("email", recipient.Email),
		)
		log.Info(fmt.Sprintf("processing %d/%d", i+1, total))

		result := d.process(ctx, recipient)
		summary.Results = append(summary.Results, result)

		switch result.Status {
		case StatusFailed:
			log.Warn("certificate not delivered", zap.Error(result.Err))
			if IsFatal(result.Err) {
				summary.Aborted = result.Err
				return summary, result.Err
			}
		case StatusRendered:
			log.Info("certificate rendered", zap.String("path", result.Path))
		default:
			log.Info("certificate sent", zap.String("path", result.Path))
		}
	}

	return summary, nil
}

func (d *Driver) process(ctx context.Context, recipient Recipient) DeliveryResult {
	result := DeliveryResult{Recipient: recipient, Status: StatusFailed}

	path, err := d.renderer.Render(recipient)
	if err != nil {
		result.Err = err
		return result
	}
	result.Path = path

	if d.mailer == nil {
		result.Status = StatusRendered
		return result
	}

	input, err := d.composer.Compose(recipient, path)
	if err != nil {
		result.Err = &SendError{Kind: ErrTransient, Email: recipient.Email, Err: err}
		return result
	}
	if err := d.mailer.Send(ctx, input); err != nil {
		result.Err = err
		return result
	}

	result.Status = StatusSent
	return result
}
