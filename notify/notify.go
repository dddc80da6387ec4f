// Package notify stellt Benachrichtigungen an Autoren, Gutachter und Editoren zu.
// Zustellfehler werden gemeldet, aber hier nicht wiederholt.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"

	mail "github.com/go-mail/mail/v2"
	"go.uber.org/zap"

	"journal-desk/config"
	"journal-desk/errs"
	"journal-desk/models"
)

// Vorlagen, die der Workflow verwendet.
const (
	TemplateInvitation       = "reviewer_invitation"
	TemplateReminder         = "reviewer_reminder"
	TemplateInvitationReply  = "invitation_response"
	TemplateWithdrawn        = "invitation_withdrawn"
	TemplateDecisionAuthor   = "decision_author"
	TemplateDecisionReviewer = "decision_reviewer"
	TemplateFollowUp         = "revision_follow_up"
	TemplateProduction       = "production_handover"
	TemplateTraining         = "reviewer_training"
)

var subjects = map[string]string{
	TemplateInvitation:       "Invitation to review",
	TemplateReminder:         "Reminder: invitation to review",
	TemplateInvitationReply:  "Reviewer responded to invitation",
	TemplateWithdrawn:        "Review invitation withdrawn",
	TemplateDecisionAuthor:   "Editorial decision on your manuscript",
	TemplateDecisionReviewer: "Editorial decision on a manuscript you reviewed",
	TemplateFollowUp:         "Revision follow-up",
	TemplateProduction:       "Manuscript handed over to production",
	TemplateTraining:         "Reviewer training assigned",
}

// Sender ist die schmale Schnittstelle zur Zustellung.
type Sender interface {
	Send(ctx context.Context, recipientID uint, template string, vars map[string]any) error
}

// PersonLookup löst Empfänger-IDs in Kontaktdaten auf.
type PersonLookup interface {
	GetPerson(ctx context.Context, id uint) (*models.Person, error)
}

// Dialer ist der Ausschnitt von mail.Dialer, den MailSender braucht.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// MailSender verschickt Benachrichtigungen per SMTP.
type MailSender struct {
	people PersonLookup
	dialer Dialer
	from   string
	logger *zap.Logger
}

// NewDialer baut einen SMTP-Dialer mit erzwungenem STARTTLS.
func NewDialer(cfg *config.Config) *mail.Dialer {
	d := mail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.SMTPHost,
		InsecureSkipVerify: cfg.SMTPSkipTLSVerify,
	}
	return d
}

// NewMailSender erstellt einen SMTP-Sender.
func NewMailSender(people PersonLookup, dialer Dialer, from string, logger *zap.Logger) *MailSender {
	return &MailSender{people: people, dialer: dialer, from: from, logger: logger}
}

// Send löst den Empfänger auf und stellt die Nachricht zu.
func (s *MailSender) Send(ctx context.Context, recipientID uint, template string, vars map[string]any) error {
	p, err := s.people.GetPerson(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("%w: recipient %d: %v", errs.ErrNotificationDeliveryFailed, recipientID, err)
	}
	if p.Email == "" {
		return fmt.Errorf("%w: recipient %d has no email", errs.ErrNotificationDeliveryFailed, recipientID)
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", p.Email)
	m.SetHeader("Subject", Subject(template))
	m.SetBody("text/plain", Body(p.DisplayName, vars))

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Warn("Mail delivery failed",
			zap.Uint("recipient_id", recipientID),
			zap.String("template", template),
			zap.Error(err))
		return fmt.Errorf("%w: %v", errs.ErrNotificationDeliveryFailed, err)
	}
	return nil
}

// Subject liefert den Betreff einer Vorlage.
func Subject(template string) string {
	if s, ok := subjects[template]; ok {
		return s
	}
	return template
}

// Body rendert die Variablen als schlichten Text in stabiler Reihenfolge.
func Body(name string, vars map[string]any) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", name)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, vars[k])
	}
	return b.String()
}

// LogSender protokolliert Benachrichtigungen nur; für Umgebungen ohne SMTP.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender erstellt einen LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, recipientID uint, template string, vars map[string]any) error {
	s.logger.Info("Notification",
		zap.Uint("recipient_id", recipientID),
		zap.String("template", template),
		zap.Any("vars", vars))
	return nil
}
