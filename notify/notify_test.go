package notify

import (
	"context"
	"errors"
	"testing"

	mail "github.com/go-mail/mail/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"journal-desk/errs"
	"journal-desk/models"
)

type fakePeople map[uint]*models.Person

func (f fakePeople) GetPerson(_ context.Context, id uint) (*models.Person, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, errs.ErrNotFound
}

type fakeDialer struct {
	sent []*mail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*mail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestMailSender_Send(t *testing.T) {
	people := fakePeople{1: {ID: 1, DisplayName: "Ada", Email: "ada@example.org"}}
	d := &fakeDialer{}
	s := NewMailSender(people, d, "desk@example.org", zap.NewNop())

	require.NoError(t, s.Send(context.Background(), 1, TemplateInvitation, map[string]any{"manuscript_id": 3}))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"ada@example.org"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Invitation to review"}, d.sent[0].GetHeader("Subject"))
}

func TestMailSender_Failures(t *testing.T) {
	people := fakePeople{1: {ID: 1, DisplayName: "Ada", Email: "ada@example.org"}, 2: {ID: 2, DisplayName: "NoMail"}}
	d := &fakeDialer{err: errors.New("connection refused")}
	s := NewMailSender(people, d, "desk@example.org", zap.NewNop())
	ctx := context.Background()

	assert.ErrorIs(t, s.Send(ctx, 1, TemplateReminder, nil), errs.ErrNotificationDeliveryFailed)
	assert.ErrorIs(t, s.Send(ctx, 2, TemplateReminder, nil), errs.ErrNotificationDeliveryFailed)
	assert.ErrorIs(t, s.Send(ctx, 3, TemplateReminder, nil), errs.ErrNotificationDeliveryFailed)
}

func TestBody_StableOrder(t *testing.T) {
	body := Body("Ada", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, "Dear Ada,\n\na: 1\nb: 2\n", body)
}

func TestMemory_Fail(t *testing.T) {
	m := &Memory{Fail: func(_ uint, template string) bool { return template == TemplateReminder }}
	ctx := context.Background()

	require.NoError(t, m.Send(ctx, 1, TemplateInvitation, nil))
	assert.Error(t, m.Send(ctx, 1, TemplateReminder, nil))
	assert.Equal(t, 1, m.Count(TemplateInvitation))
	assert.Len(t, m.Messages(), 1)
}
