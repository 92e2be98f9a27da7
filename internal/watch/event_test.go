package watch

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

func TestEventFromEnvelope(t *testing.T) {
	account := Account{ID: 1, ChatID: 42}
	buf := &imapclient.FetchMessageBuffer{
		UID: 77,
		Envelope: &imap.Envelope{
			Date:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Subject: "Quarterly report",
			From:    []imap.Address{{Name: "Alice Smith", Mailbox: "alice", Host: "example.org"}},
		},
	}

	event, err := eventFromMessage(account, buf)
	require.NoError(t, err)
	require.Equal(t, "77", event.MessageID)
	require.Equal(t, "Alice Smith <alice@example.org>", event.From)
	require.Equal(t, "Quarterly report", event.Subject)
	require.Equal(t, int64(42), event.ChatID)
	require.Equal(t, 2025, event.ReceivedAt.Year())
}

func TestEventFallsBackToHeader(t *testing.T) {
	header := "From: Bob <bob@example.org>\r\n" +
		"Subject: Hello there\r\n" +
		"Date: Mon, 02 Jun 2025 08:30:00 +0000\r\n" +
		"\r\n"
	buf := &imapclient.FetchMessageBuffer{
		UID: 5,
		BodySection: []imapclient.FetchBodySectionBuffer{{
			Section: &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader},
			Bytes:   []byte(header),
		}},
	}

	event, err := eventFromMessage(Account{ID: 1, ChatID: 42}, buf)
	require.NoError(t, err)
	require.Equal(t, "Bob <bob@example.org>", event.From)
	require.Equal(t, "Hello there", event.Subject)
	require.Equal(t, time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC), event.ReceivedAt.UTC())
}

func TestEventMissingSubjectGetsPlaceholder(t *testing.T) {
	buf := &imapclient.FetchMessageBuffer{
		UID: 9,
		Envelope: &imap.Envelope{
			From: []imap.Address{{Mailbox: "carol", Host: "example.org"}},
		},
	}

	event, err := eventFromMessage(Account{ID: 1, ChatID: 42}, buf)
	require.NoError(t, err)
	require.Equal(t, "(No Subject)", event.Subject)
	require.Equal(t, "carol@example.org", event.From)
	require.False(t, event.ReceivedAt.IsZero())
}

func TestEventWithoutSenderRejected(t *testing.T) {
	_, err := eventFromMessage(Account{ID: 1}, &imapclient.FetchMessageBuffer{UID: 3})
	require.Error(t, err)
}

func TestEventWithoutUIDRejected(t *testing.T) {
	_, err := eventFromMessage(Account{ID: 1}, &imapclient.FetchMessageBuffer{
		Envelope: &imap.Envelope{From: []imap.Address{{Mailbox: "a", Host: "b"}}},
	})
	require.ErrorIs(t, err, errNoUID)
}
