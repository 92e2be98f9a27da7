package watch

import (
	"context"

	"github.com/mailgram-io/mailgram/internal/metrics"
)

// listen runs the push cycle for one subscribed session: idle until the
// server reports mailbox activity, then sweep the unseen messages. The
// loop exits when the session is torn down or the connection errors out.
func (m *Manager) listen(ctx context.Context, sess *session) {
	defer m.wg.Done()
	defer metrics.SessionsSubscribed.Dec()

	handle, ok := sess.liveHandle()
	if !ok {
		return
	}

	for {
		if err := handle.WaitUpdate(ctx, m.idleTimeout); err != nil {
			m.exitListener(ctx, sess, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := m.deliverUnseen(ctx, sess, handle); err != nil {
			m.exitListener(ctx, sess, err)
			return
		}
	}
}

// exitListener records why the session ended. Errors during a deliberate
// shutdown are expected and not worth a fault.
func (m *Manager) exitListener(ctx context.Context, sess *session, err error) {
	if ctx.Err() != nil || !sess.isActive() {
		return
	}
	m.logger.Printf("Session for account %d dropped: %v", sess.accountID, err)

	sess.mu.Lock()
	sess.state = StateDisconnected
	handle := sess.handle
	sess.handle = nil
	sess.mu.Unlock()
	if handle != nil {
		_ = handle.Close()
	}
}

// deliverUnseen queries the unseen messages and emits one event per
// parsable message. A malformed message is skipped with a warning and
// never stops the rest of the batch; sink failures are logged and the
// session stays up. Delivery is at-least-once: there is no dedup ledger
// beyond the server's own unseen flag.
func (m *Manager) deliverUnseen(ctx context.Context, sess *session, handle MailSession) error {
	uids, err := handle.SearchUnseen()
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	buffers, err := handle.FetchMessages(uids)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	account := Account{ID: sess.accountID, ChatID: sess.chatID}
	sess.mu.Unlock()

	for _, buf := range buffers {
		if ctx.Err() != nil {
			return nil
		}
		event, err := eventFromMessage(account, buf)
		if err != nil {
			m.logger.Printf("Skipping malformed message on account %d: %v", sess.accountID, err)
			continue
		}
		if err := m.sink.NotifyNewMail(ctx, event); err != nil {
			m.logger.Printf("Notify failed for account %d message %s: %v", sess.accountID, event.MessageID, err)
			continue
		}
		metrics.MailEventsTotal.Inc()
	}
	return nil
}
