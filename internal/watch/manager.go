package watch

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/mailgram-io/mailgram/internal/metrics"
)

// Manager owns every live mailbox session, keyed by account id. It is safe
// for concurrent use.
type Manager struct {
	directory         AccountDirectory
	sink              Sink
	factory           SessionFactory
	logger            *log.Logger
	dialTimeout       time.Duration
	connectTimeout    time.Duration
	idleTimeout       time.Duration
	defaultSpamFolder string

	mu       sync.Mutex
	sessions map[int64]*session
	closed   bool
	wg       sync.WaitGroup
}

// Option customizes manager behavior.
type Option func(*Manager)

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionFactory substitutes the IMAP dialer, primarily for tests.
func WithSessionFactory(factory SessionFactory) Option {
	return func(m *Manager) { m.factory = factory }
}

func WithDialTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.dialTimeout = timeout
		}
	}
}

// WithConnectTimeout bounds the whole dial-and-login handshake.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.connectTimeout = timeout
		}
	}
}

// WithIdleTimeout bounds one idle cycle. Servers may drop idle connections
// after 30 minutes, so the default stays under that.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

func WithDefaultSpamFolder(folder string) Option {
	return func(m *Manager) {
		if folder != "" {
			m.defaultSpamFolder = folder
		}
	}
}

func NewManager(directory AccountDirectory, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		directory:         directory,
		sink:              sink,
		logger:            log.New(log.Writer(), "[WATCH] ", log.LstdFlags),
		dialTimeout:       10 * time.Second,
		connectTimeout:    30 * time.Second,
		idleTimeout:       24 * time.Minute,
		defaultSpamFolder: "Junk",
		sessions:          make(map[int64]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = dialSession(m.dialTimeout)
	}
	return m
}

// Connect establishes a session for the account. Connecting an account that
// already holds a connecting or subscribed session is a no-op. The session
// entry is inserted before dialing so concurrent calls collapse into one.
func (m *Manager) Connect(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if existing, ok := m.sessions[accountID]; ok {
		switch existing.currentState() {
		case StateConnecting, StateSubscribed:
			m.mu.Unlock()
			return nil
		}
	}
	sess := &session{accountID: accountID, state: StateConnecting, active: true}
	m.sessions[accountID] = sess
	m.mu.Unlock()

	account, err := m.directory.Get(ctx, accountID)
	if err != nil {
		m.dropSession(accountID, sess)
		return fmt.Errorf("account %d: %w", accountID, err)
	}
	sess.mu.Lock()
	sess.chatID = account.ChatID
	sess.spamFolder = m.spamFolderFor(account)
	sess.mu.Unlock()

	handle, err := m.openSession(ctx, account)
	if err != nil {
		metrics.ConnectFailuresTotal.Inc()
		sess.setState(StateFaulted)
		m.logger.Printf("Connect failed for account %d (%s): %v", accountID, account.Email, err)
		return fmt.Errorf("connect account %d: %w", accountID, err)
	}

	if err := handle.SelectInbox(); err != nil {
		metrics.ConnectFailuresTotal.Inc()
		_ = handle.Close()
		sess.setState(StateFaulted)
		return fmt.Errorf("connect account %d: %w", accountID, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	if !sess.active {
		// Disconnected while we were dialing.
		sess.mu.Unlock()
		cancel()
		_ = handle.Logout()
		_ = handle.Close()
		return nil
	}
	sess.handle = handle
	sess.state = StateSubscribed
	sess.cancel = cancel
	sess.mu.Unlock()

	metrics.SessionsSubscribed.Inc()
	m.logger.Printf("Subscribed account %d (%s)", accountID, account.Email)
	m.wg.Add(1)
	go m.listen(listenCtx, sess)
	return nil
}

type dialResult struct {
	handle MailSession
	err    error
}

// openSession dials through the factory with a hard deadline. A handle that
// arrives after the deadline is closed instead of leaked.
func (m *Manager) openSession(ctx context.Context, account Account) (MailSession, error) {
	result := make(chan dialResult, 1)
	go func() {
		handle, err := m.factory(account)
		result <- dialResult{handle, err}
	}()

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()
	select {
	case res := <-result:
		return res.handle, res.err
	case <-timer.C:
		go discardLateHandle(result)
		return nil, fmt.Errorf("timed out after %s", m.connectTimeout)
	case <-ctx.Done():
		go discardLateHandle(result)
		return nil, ctx.Err()
	}
}

func discardLateHandle(result <-chan dialResult) {
	if res := <-result; res.handle != nil {
		_ = res.handle.Close()
	}
}

// Disconnect tears down the account's session. Unknown accounts are a
// no-op.
func (m *Manager) Disconnect(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	sess, ok := m.sessions[accountID]
	if ok {
		delete(m.sessions, accountID)
	}
	m.mu.Unlock()

	if ok {
		sess.shutdown()
	}
	return nil
}

// RefreshAll reconciles sessions against the directory: every active
// account gets a fresh session, sessions for accounts no longer active are
// torn down. One account's failure never stops the rest.
func (m *Manager) RefreshAll(ctx context.Context) error {
	accounts, err := m.directory.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}

	active := make(map[int64]bool, len(accounts))
	for _, acc := range accounts {
		active[acc.ID] = true
	}
	m.mu.Lock()
	var stale []int64
	for id := range m.sessions {
		if !active[id] {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.logger.Printf("Dropping session for deactivated account %d", id)
		_ = m.Disconnect(ctx, id)
	}

	var failures int
	for _, acc := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = m.Disconnect(ctx, acc.ID)
		if err := m.Connect(ctx, acc.ID); err != nil {
			failures++
			m.logger.Printf("Refresh failed for account %d: %v", acc.ID, err)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d account refreshes failed", failures, len(accounts))
	}
	return nil
}

// MarkRead flags the message as seen, connecting on demand when the
// account has no live session.
func (m *Manager) MarkRead(ctx context.Context, accountID int64, messageID string) error {
	uid, err := parseMessageID(messageID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("read", "error").Inc()
		return err
	}

	sess, handle, err := m.actionableSession(ctx, accountID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("read", "error").Inc()
		return err
	}

	if err := handle.MarkSeen(uid); err != nil {
		metrics.ActionsTotal.WithLabelValues("read", "error").Inc()
		return fmt.Errorf("mark read %s on account %d: %w", messageID, sess.accountID, err)
	}
	metrics.ActionsTotal.WithLabelValues("read", "ok").Inc()
	return nil
}

// MarkSpam moves the message into the account's spam folder, creating the
// folder on first use when the server does not have it yet.
func (m *Manager) MarkSpam(ctx context.Context, accountID int64, messageID string) error {
	uid, err := parseMessageID(messageID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("spam", "error").Inc()
		return err
	}

	sess, handle, err := m.actionableSession(ctx, accountID)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("spam", "error").Inc()
		return err
	}

	sess.mu.Lock()
	folder := sess.spamFolder
	sess.mu.Unlock()
	if folder == "" {
		folder = m.defaultSpamFolder
	}

	err = handle.Move(uid, folder)
	if isFolderMissing(err) {
		if createErr := handle.CreateFolder(folder); createErr != nil {
			metrics.ActionsTotal.WithLabelValues("spam", "error").Inc()
			return fmt.Errorf("create folder %s on account %d: %w", folder, accountID, createErr)
		}
		err = handle.Move(uid, folder)
	}
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("spam", "error").Inc()
		return fmt.Errorf("mark spam %s on account %d: %w", messageID, accountID, err)
	}
	metrics.ActionsTotal.WithLabelValues("spam", "ok").Inc()
	return nil
}

// actionableSession returns a subscribed session for the account,
// connecting first when necessary.
func (m *Manager) actionableSession(ctx context.Context, accountID int64) (*session, MailSession, error) {
	if sess, handle, ok := m.lookupLive(accountID); ok {
		return sess, handle, nil
	}
	if err := m.Connect(ctx, accountID); err != nil {
		return nil, nil, err
	}
	if sess, handle, ok := m.lookupLive(accountID); ok {
		return sess, handle, nil
	}
	return nil, nil, fmt.Errorf("no live session for account %d", accountID)
}

func (m *Manager) lookupLive(accountID int64) (*session, MailSession, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[accountID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	handle, live := sess.liveHandle()
	if !live {
		return nil, nil, false
	}
	return sess, handle, true
}

// States reports the session state per account id.
func (m *Manager) States() map[int64]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[int64]State, len(m.sessions))
	for id, sess := range m.sessions {
		states[id] = sess.currentState()
	}
	return states
}

// Close tears down every session and waits for the listeners to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[int64]*session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.shutdown()
	}
	m.wg.Wait()
}

// dropSession removes the session only if it is still the one we inserted.
func (m *Manager) dropSession(accountID int64, sess *session) {
	m.mu.Lock()
	if m.sessions[accountID] == sess {
		delete(m.sessions, accountID)
	}
	m.mu.Unlock()
}

func (m *Manager) spamFolderFor(account Account) string {
	if account.SpamFolder != "" {
		return account.SpamFolder
	}
	return m.defaultSpamFolder
}

func parseMessageID(messageID string) (imap.UID, error) {
	n, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid message id %q", messageID)
	}
	return imap.UID(n), nil
}
