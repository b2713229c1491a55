// File: internal/adb/messenger.go
package adb

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/droidctl/internal/env"
)

var _ env.Messenger = (*Messenger)(nil)

// Messenger shows messages through an on-device overlay app that listens for
// a broadcast intent carrying "task_type_string" (the header) and
// "goal_string" (the message) extras.
type Messenger struct {
	client *Client
	action string
}

// NewMessenger returns a messenger broadcasting the given intent action.
func NewMessenger(client *Client, action string) *Messenger {
	return &Messenger{client: client, action: action}
}

// Display sends the broadcast. It does not wait for the overlay to render.
func (m *Messenger) Display(ctx context.Context, message, header string) error {
	_, err := m.client.Shell(ctx, "am", "broadcast",
		"-a", m.action,
		"--es", "task_type_string", Quote(header),
		"--es", "goal_string", Quote(message))
	if err != nil {
		return fmt.Errorf("overlay broadcast: %w", err)
	}
	return nil
}
