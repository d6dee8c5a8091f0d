package service

import (
	"context"
	"crypto/tls"
	"ecg_rating_backend/internal/config"
	"ecg_rating_backend/internal/model"
	"ecg_rating_backend/internal/repository"
	"ecg_rating_backend/internal/util"
	"ecg_rating_backend/pkg/monitoring"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type Recipient struct {
	UserID string
	Email  string
	RunID  string
}

type Deliverer interface {
	Deliver(ctx context.Context, to Recipient, subject, body string) error
	Channel() string
}

// ConsoleDeliverer 只写日志，开发环境默认渠道
type ConsoleDeliverer struct {
	Logger *zap.Logger
}

func (d *ConsoleDeliverer) Deliver(ctx context.Context, to Recipient, subject, body string) error {
	d.Logger.Info("feedback message",
		zap.String("user_id", to.UserID),
		zap.String("email", to.Email),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

func (d *ConsoleDeliverer) Channel() string { return util.ChannelConsole }

type SMTPDeliverer struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

func (d *SMTPDeliverer) Deliver(ctx context.Context, to Recipient, subject, body string) error {
	if to.Email == "" {
		return fmt.Errorf("user %s has no email address", to.UserID)
	}
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)

	dialer := &net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, d.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: d.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if d.User != "" && d.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", d.User, d.Password, d.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(d.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to.Email); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write([]byte(buildMIMEMessage(d.FromName, d.From, to.Email, subject, body))); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}
	_ = client.Quit()
	return nil
}

func (d *SMTPDeliverer) Channel() string { return util.ChannelSMTP }

func buildMIMEMessage(fromName, from, to, subject, body string) string {
	var b strings.Builder
	if fromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, from)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}

type SendgridDeliverer struct {
	Key  string
	From *sgmail.Email
}

func (d *SendgridDeliverer) Deliver(ctx context.Context, to Recipient, subject, body string) error {
	if to.Email == "" {
		return fmt.Errorf("user %s has no email address", to.UserID)
	}
	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail("", to.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(d.From)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", body))

	req := sendgrid.GetRequest(d.Key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := rest.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (d *SendgridDeliverer) Channel() string { return util.ChannelSendgrid }

// InAppDeliverer 写入 feedback_messages，用户通过 /api/feedback/latest 查看
type InAppDeliverer struct {
	Repo *repository.FeedbackMessageRepository
}

func (d *InAppDeliverer) Deliver(ctx context.Context, to Recipient, subject, body string) error {
	return d.Repo.Create(ctx, &model.FeedbackMessage{
		UserID:  to.UserID,
		RunID:   to.RunID,
		Subject: subject,
		Body:    body,
	})
}

func (d *InAppDeliverer) Channel() string { return util.ChannelInApp }

// RateLimitedDeliverer 限制投递速率，并记录投递指标
type RateLimitedDeliverer struct {
	Next    Deliverer
	Limiter *rate.Limiter
}

func NewRateLimitedDeliverer(next Deliverer, perSecond float64, burst int) *RateLimitedDeliverer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedDeliverer{Next: next, Limiter: rate.NewLimiter(limit, burst)}
}

func (d *RateLimitedDeliverer) Deliver(ctx context.Context, to Recipient, subject, body string) error {
	if err := d.Limiter.Wait(ctx); err != nil {
		monitoring.FeedbackDeliveries.WithLabelValues(d.Next.Channel(), "failed").Inc()
		return err
	}
	if err := d.Next.Deliver(ctx, to, subject, body); err != nil {
		monitoring.FeedbackDeliveries.WithLabelValues(d.Next.Channel(), "failed").Inc()
		return err
	}
	monitoring.FeedbackDeliveries.WithLabelValues(d.Next.Channel(), "delivered").Inc()
	return nil
}

func (d *RateLimitedDeliverer) Channel() string { return d.Next.Channel() }

func NewDeliverer(cfg *config.FeedbackConfig, messages *repository.FeedbackMessageRepository, log *zap.Logger) (Deliverer, error) {
	var d Deliverer
	switch cfg.Channel {
	case util.ChannelSMTP:
		d = &SMTPDeliverer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.FromEmail,
			FromName: cfg.FromName,
			Timeout:  30 * time.Second,
		}
	case util.ChannelSendgrid:
		d = &SendgridDeliverer{Key: cfg.SendgridKey, From: sgmail.NewEmail(cfg.FromName, cfg.FromEmail)}
	case util.ChannelInApp:
		d = &InAppDeliverer{Repo: messages}
	case util.ChannelConsole, "":
		d = &ConsoleDeliverer{Logger: log}
	default:
		return nil, fmt.Errorf("unsupported feedback channel %q", cfg.Channel)
	}
	return NewRateLimitedDeliverer(d, cfg.RatePerSecond, cfg.Burst), nil
}
