package watch

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// MailSession is the slice of an IMAP connection the watcher uses. The
// concrete implementation wraps imapclient; tests substitute fakes.
type MailSession interface {
	SelectInbox() error
	SearchUnseen() ([]imap.UID, error)
	FetchMessages(uids []imap.UID) ([]*imapclient.FetchMessageBuffer, error)
	MarkSeen(uid imap.UID) error
	Move(uid imap.UID, folder string) error
	CreateFolder(folder string) error
	WaitUpdate(ctx context.Context, timeout time.Duration) error
	Logout() error
	Close() error
}

// SessionFactory dials and authenticates a session for one account.
type SessionFactory func(account Account) (MailSession, error)

// dialSession is the production SessionFactory.
func dialSession(dialTimeout time.Duration) SessionFactory {
	return func(account Account) (MailSession, error) {
		s := &liveSession{updates: make(chan struct{}, 1)}

		opts := &imapclient.Options{
			Dialer: &net.Dialer{Timeout: dialTimeout},
			UnilateralDataHandler: &imapclient.UnilateralDataHandler{
				Mailbox: func(*imapclient.UnilateralDataMailbox) {
					select {
					case s.updates <- struct{}{}:
					default:
					}
				},
			},
		}

		addr := fmt.Sprintf("%s:%d", account.Host, account.Port)
		var client *imapclient.Client
		var err error
		if account.UseTLS {
			client, err = imapclient.DialTLS(addr, opts)
		} else {
			client, err = imapclient.DialInsecure(addr, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("imap dial %s: %w", addr, err)
		}

		if err := client.Login(account.Email, account.Password).Wait(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("imap auth: %w", err)
		}

		s.client = client
		return s, nil
	}
}

// liveSession wraps a logged-in imapclient connection. A mutex serializes
// commands against the IDLE handoff: IMAP allows no other command while
// IDLE is running, so every action first breaks the idle.
type liveSession struct {
	client  *imapclient.Client
	updates chan struct{}

	mu   sync.Mutex
	idle *imapclient.IdleCommand
}

func (s *liveSession) SelectInbox() error {
	return s.withIdleSuspended(func() error {
		if _, err := s.client.Select("INBOX", nil).Wait(); err != nil {
			return fmt.Errorf("imap select INBOX: %w", err)
		}
		return nil
	})
}

func (s *liveSession) SearchUnseen() ([]imap.UID, error) {
	var uids []imap.UID
	err := s.withIdleSuspended(func() error {
		criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
		data, err := s.client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("imap search unseen: %w", err)
		}
		uids = data.AllUIDs()
		return nil
	})
	return uids, err
}

func (s *liveSession) FetchMessages(uids []imap.UID) ([]*imapclient.FetchMessageBuffer, error) {
	var buffers []*imapclient.FetchMessageBuffer
	err := s.withIdleSuspended(func() error {
		fetchOpts := &imap.FetchOptions{
			UID:          true,
			InternalDate: true,
			Envelope:     true,
			BodySection: []*imap.FetchItemBodySection{
				{Specifier: imap.PartSpecifierHeader},
			},
		}
		collected, err := s.client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
		if err != nil {
			return fmt.Errorf("imap fetch: %w", err)
		}
		buffers = collected
		return nil
	})
	return buffers, err
}

func (s *liveSession) MarkSeen(uid imap.UID) error {
	return s.withIdleSuspended(func() error {
		store := &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}
		if err := s.client.Store(imap.UIDSetNum(uid), store, nil).Close(); err != nil {
			return fmt.Errorf("imap store seen: %w", err)
		}
		return nil
	})
}

func (s *liveSession) Move(uid imap.UID, folder string) error {
	return s.withIdleSuspended(func() error {
		if _, err := s.client.Move(imap.UIDSetNum(uid), folder).Wait(); err != nil {
			return fmt.Errorf("imap move to %s: %w", folder, err)
		}
		return nil
	})
}

func (s *liveSession) CreateFolder(folder string) error {
	return s.withIdleSuspended(func() error {
		if err := s.client.Create(folder, nil).Wait(); err != nil {
			return fmt.Errorf("imap create %s: %w", folder, err)
		}
		return nil
	})
}

// WaitUpdate idles until the server reports mailbox activity, the context
// is cancelled, or the timeout elapses. A nil return means the caller
// should sweep the mailbox and idle again.
func (s *liveSession) WaitUpdate(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	idle, err := s.client.Idle()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("imap idle: %w", err)
	}
	s.idle = idle
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.updates:
	case <-timer.C:
	case <-ctx.Done():
	}

	s.mu.Lock()
	suspended := s.idle == nil
	s.idle = nil
	s.mu.Unlock()

	if !suspended {
		if err := idle.Close(); err != nil {
			return fmt.Errorf("imap idle close: %w", err)
		}
		if err := idle.Wait(); err != nil {
			return fmt.Errorf("imap idle: %w", err)
		}
	}
	return ctx.Err()
}

// withIdleSuspended breaks a running IDLE, runs the command, and pokes the
// update channel so the listener resumes idling promptly.
func (s *liveSession) withIdleSuspended(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle != nil {
		if err := s.idle.Close(); err != nil {
			return fmt.Errorf("imap idle close: %w", err)
		}
		_ = s.idle.Wait()
		s.idle = nil
		defer func() {
			select {
			case s.updates <- struct{}{}:
			default:
			}
		}()
	}
	return fn()
}

func (s *liveSession) Logout() error {
	return s.withIdleSuspended(func() error {
		return s.client.Logout().Wait()
	})
}

func (s *liveSession) Close() error {
	return s.client.Close()
}
