package watch

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// NewMailEvent is one unseen message summarized for notification.
type NewMailEvent struct {
	AccountID  int64
	ChatID     int64
	MessageID  string
	From       string
	Subject    string
	ReceivedAt time.Time
}

const noSubject = "(No Subject)"

var errNoUID = errors.New("message has no uid")

// eventFromMessage summarizes one fetched message. The envelope is the
// primary source; when the server returns none, the raw header section is
// parsed instead. Messages without a UID cannot be acted on and are
// rejected.
func eventFromMessage(account Account, buf *imapclient.FetchMessageBuffer) (NewMailEvent, error) {
	if buf.UID == 0 {
		return NewMailEvent{}, errNoUID
	}

	event := NewMailEvent{
		AccountID:  account.ID,
		ChatID:     account.ChatID,
		MessageID:  fmt.Sprintf("%d", buf.UID),
		Subject:    noSubject,
		ReceivedAt: buf.InternalDate,
	}

	if env := buf.Envelope; env != nil {
		if len(env.From) > 0 {
			event.From = formatAddress(env.From[0])
		}
		if env.Subject != "" {
			event.Subject = env.Subject
		}
		if !env.Date.IsZero() {
			event.ReceivedAt = env.Date
		}
	}

	if event.From == "" || event.Subject == noSubject {
		fillFromHeader(&event, buf)
	}

	if event.From == "" {
		return NewMailEvent{}, fmt.Errorf("message %s has no sender", event.MessageID)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return event, nil
}

// fillFromHeader backfills sender and subject from the raw RFC 5322 header
// when the envelope was missing or incomplete.
func fillFromHeader(event *NewMailEvent, buf *imapclient.FetchMessageBuffer) {
	section := buf.FindBodySection(&imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader})
	if len(section) == 0 {
		return
	}

	entity, err := message.Read(bytes.NewReader(section))
	if err != nil {
		return
	}
	header := mail.Header{Header: entity.Header}

	if event.From == "" {
		if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
			if from[0].Name != "" {
				event.From = fmt.Sprintf("%s <%s>", from[0].Name, from[0].Address)
			} else {
				event.From = from[0].Address
			}
		}
	}
	if event.Subject == noSubject {
		if subject, err := header.Subject(); err == nil && subject != "" {
			event.Subject = subject
		}
	}
	if event.ReceivedAt.IsZero() {
		if date, err := header.Date(); err == nil {
			event.ReceivedAt = date
		}
	}
}

func formatAddress(addr imap.Address) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Addr())
	}
	return addr.Addr()
}
