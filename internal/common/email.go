package common

// EmailSender delivers transactional mail. The worker sends receipts and
// low-stock alerts through it; the API binary never touches SMTP directly.
type EmailSender interface {
	Send(to, subject, html string) error
}

// Email is one captured outgoing message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// InMemoryEmail collects sent messages for assertions in tests.
type InMemoryEmail struct {
	Outbox []Email
}

func (m *InMemoryEmail) Send(to, subject, html string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// NopEmailSender discards mail. Used when no SMTP relay is configured.
type NopEmailSender struct{}

func (NopEmailSender) Send(string, string, string) error { return nil }
