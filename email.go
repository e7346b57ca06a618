package deeptrace

import (
	"context"
	"log/slog"
	"net/url"
	"path"
)

// EmailSender delivers account emails. Applications provide their own
// implementation for real delivery.
type EmailSender interface {
	SendConfirmationEmail(ctx context.Context, to string, confirmationLink string) error
	SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails instead
// of sending them.
type ConsoleEmailSender struct {
	Logger *slog.Logger

	// RedactTokens masks the token inside logged links. Leave it off only in
	// development, where the log is the delivery channel.
	RedactTokens bool
}

const redacted = "REDACTED"

// redactLink masks the token of a confirmation link (last path segment) or a
// reset link (token query parameter).
func redactLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return redacted
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", redacted)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if u.Path != "" && u.Path != "/" {
		u.Path = path.Join(path.Dir(u.Path), redacted)
		u.RawPath = ""
	}
	return u.String()
}

func (c *ConsoleEmailSender) link(link string) string {
	if c.RedactTokens {
		return redactLink(link)
	}
	return link
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleEmailSender) SendConfirmationEmail(ctx context.Context, to string, confirmationLink string) error {
	c.logger().InfoContext(ctx, "email: confirm address",
		"to", to,
		"subject", "Confirm your email address",
		"link", c.link(confirmationLink))
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	c.logger().InfoContext(ctx, "email: password reset",
		"to", to,
		"subject", "Reset your password",
		"link", c.link(resetLink))
	return nil
}
