package notify

import (
	"context"
	"fmt"
	"sync"

	"journal-desk/errs"
)

// Message ist eine von Memory aufgezeichnete Benachrichtigung.
type Message struct {
	RecipientID uint
	Template    string
	Vars        map[string]any
}

// Memory zeichnet Benachrichtigungen auf. Fail kann einzelne Vorlagen oder
// Empfänger scheitern lassen.
type Memory struct {
	mu       sync.Mutex
	messages []Message
	Fail     func(recipientID uint, template string) bool
}

func (m *Memory) Send(_ context.Context, recipientID uint, template string, vars map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil && m.Fail(recipientID, template) {
		return fmt.Errorf("%w: %s to %d", errs.ErrNotificationDeliveryFailed, template, recipientID)
	}
	m.messages = append(m.messages, Message{RecipientID: recipientID, Template: template, Vars: vars})
	return nil
}

// Messages liefert eine Kopie der zugestellten Nachrichten.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Count zählt zugestellte Nachrichten einer Vorlage.
func (m *Memory) Count(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Template == template {
			n++
		}
	}
	return n
}
