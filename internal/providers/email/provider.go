package email

import "context"

// Provider sends HTML mail. Send returns the Message-ID it assigned.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) (string, error)
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) (string, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) (string, error) {
	return "", nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) (string, error) {
	return "", nil
}
