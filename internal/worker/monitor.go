package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/store"
	"github.com/Mapetere/latterpay/internal/whatsapp"
)

const (
	sessionWarningText = "⏰ *Are you still there?*\n\nYour session will expire soon due to inactivity.\nReply with anything to keep going, or type *cancel* to stop."
	sessionExpiredText = "💤 *Session Expired*\n\nYour session timed out due to inactivity.\n\nType *menu* whenever you're ready to start again. 🙏"
)

// SessionMonitor expires idle conversations, warning each session once
// before it goes.
type SessionMonitor struct {
	store   store.SessionStore
	sender  whatsapp.Sender
	timeout time.Duration
	warning time.Duration
	now     func() time.Time
}

func NewSessionMonitor(st store.SessionStore, sender whatsapp.Sender, timeout, warning time.Duration) *SessionMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if warning <= 0 || warning >= timeout {
		warning = timeout - time.Minute
	}
	return &SessionMonitor{
		store:   st,
		sender:  sender,
		timeout: timeout,
		warning: warning,
		now:     time.Now,
	}
}

func (m *SessionMonitor) Run(ctx context.Context) error {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	now := m.now()

	for _, session := range sessions {
		idle := now.Sub(session.LastActive)
		switch {
		case idle >= m.timeout:
			if err := m.store.DeleteSession(ctx, session.Phone); err != nil {
				logging.Logger.WithError(err).WithField("phone", session.Phone).Warn("expire session failed")
				continue
			}
			logging.Logger.WithField("phone", session.Phone).
				WithField("step", session.Step).
				Info("session expired")
			if err := m.sender.SendText(ctx, session.Phone, sessionExpiredText); err != nil {
				logging.Logger.WithError(err).Warn("session expiry notice failed")
			}
		case idle >= m.warning && !session.Warned:
			if err := m.store.MarkWarned(ctx, session.Phone); err != nil {
				logging.Logger.WithError(err).WithField("phone", session.Phone).Warn("mark warned failed")
				continue
			}
			if err := m.sender.SendText(ctx, session.Phone, sessionWarningText); err != nil {
				logging.Logger.WithError(err).Warn("session warning failed")
			}
		}
	}
	return nil
}
