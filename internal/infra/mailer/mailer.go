// Package mailer delivers activation emails through SendGrid, or to the log when no
// API key is configured.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/resilience"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"

	"github.com/gofiber/template/html/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mailer")

const sendgridService = "sendgrid"

//go:embed templates/*.html
var templateFS embed.FS

// ============================================================
// Templates
// ============================================================

// Renderer renders the embedded email templates.
type Renderer struct {
	engine *html.Engine
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

// Activation renders the HTML body of an activation email.
func (r *Renderer) Activation(msg port.ActivationEmail) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, "activation", msg); err != nil {
		return "", fmt.Errorf("render activation email: %w", err)
	}
	return buf.String(), nil
}

func activationSubject(msg port.ActivationEmail) string {
	return fmt.Sprintf("Your %s eSIM is ready", msg.PlanName)
}

func activationText(msg port.ActivationEmail) string {
	return fmt.Sprintf("Hi %s,\n\nYour %s eSIM is ready.\n\nQR code: %s\nActivation code: %s\n\nValid for %d days from activation.\n",
		msg.EmployeeName, msg.PlanName, msg.QRCodeURL, msg.ActivationCode, msg.ValidityDays)
}

// ============================================================
// SendGrid
// ============================================================

// SendGridMailer implements port.Mailer with the SendGrid v3 API.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     *mail.Email
	renderer *Renderer
	cb       *gobreaker.CircuitBreaker
	cfg      resilience.Config
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSendGridMailer creates a SendGrid-backed mailer.
func NewSendGridMailer(apiKey, fromAddress, fromName string, renderer *Renderer, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *SendGridMailer {
	return &SendGridMailer{
		client:   sendgrid.NewSendClient(apiKey),
		from:     mail.NewEmail(fromName, fromAddress),
		renderer: renderer,
		cb:       resilience.NewCircuitBreaker(sendgridService, nil),
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

func (m *SendGridMailer) SendActivation(ctx context.Context, msg port.ActivationEmail) error {
	ctx, span := tracer.Start(ctx, "SendGridMailer.SendActivation")
	defer span.End()

	body, err := m.renderer.Activation(msg)
	if err != nil {
		return err
	}
	message := mail.NewSingleEmail(m.from, activationSubject(msg), mail.NewEmail(msg.EmployeeName, msg.To), activationText(msg), body)

	_, err = m.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, m.cfg, func() error {
			resp, err := m.client.SendWithContext(ctx, message)
			if err != nil {
				return err
			}
			switch {
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
			case resp.StatusCode >= 300:
				return resilience.Permanent(fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body))
			}
			return nil
		})
	})
	if err != nil {
		m.metrics.IncrExternalError(sendgridService)
		m.logger.Error("mailer: activation email failed",
			zap.String("to", msg.To),
			zap.Error(err),
		)
		return err
	}

	m.logger.Info("mailer: activation email sent", zap.String("to", msg.To), zap.String("plan", msg.PlanName))
	return nil
}

// ============================================================
// Log-only
// ============================================================

// LogMailer renders the email and writes it to the log instead of sending it.
type LogMailer struct {
	renderer *Renderer
	logger   *zap.Logger
}

// NewLogMailer creates a mailer for local development.
func NewLogMailer(renderer *Renderer, logger *zap.Logger) *LogMailer {
	return &LogMailer{renderer: renderer, logger: logger}
}

func (m *LogMailer) SendActivation(_ context.Context, msg port.ActivationEmail) error {
	body, err := m.renderer.Activation(msg)
	if err != nil {
		return err
	}
	m.logger.Info("mailer: activation email (not sent)",
		zap.String("to", msg.To),
		zap.String("subject", activationSubject(msg)),
		zap.Int("html_bytes", len(body)),
		zap.String("activation_code", msg.ActivationCode),
	)
	return nil
}
