// Package bot runs the Telegram command surface: account management
// commands plus the inline buttons attached to mail notifications.
package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mailgram-io/mailgram/internal/models"
	"github.com/mailgram-io/mailgram/internal/telegram"
	"github.com/mailgram-io/mailgram/internal/token"
)

// Messenger is the slice of the Telegram client the bot uses.
type Messenger interface {
	GetUpdates(ctx context.Context, offset, timeoutSec int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMarkdown(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, keyboard *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// MailboxActions is the slice of the session manager the bot uses.
type MailboxActions interface {
	MarkRead(ctx context.Context, accountID int64, messageID string) error
	MarkSpam(ctx context.Context, accountID int64, messageID string) error
	Disconnect(ctx context.Context, accountID int64) error
}

// AccountDirectory is the slice of the directory the bot uses.
type AccountDirectory interface {
	ListByChat(ctx context.Context, chatID int64) ([]models.EmailAccount, error)
	Get(ctx context.Context, id int64) (*models.EmailAccount, error)
	Remove(ctx context.Context, id int64) error
}

const helpText = `Mailgram watches your mailboxes and notifies you here.

Commands:
/addemail - register a new email account
/myemails - list your registered accounts
/remove_email - remove an account
/reset_password - update an account password
/help - show this message`

// Bot long-polls Telegram and dispatches commands and button presses.
type Bot struct {
	client      Messenger
	actions     MailboxActions
	accounts    AccountDirectory
	tokens      *token.Store
	baseURL     string
	pollTimeout int
	retryDelay  time.Duration
	logger      *log.Logger
}

func New(client Messenger, actions MailboxActions, accounts AccountDirectory, tokens *token.Store, baseURL string, pollTimeout int) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Bot{
		client:      client,
		actions:     actions,
		accounts:    accounts,
		tokens:      tokens,
		baseURL:     strings.TrimRight(baseURL, "/"),
		pollTimeout: pollTimeout,
		retryDelay:  3 * time.Second,
		logger:      log.New(log.Writer(), "[BOT] ", log.LstdFlags),
	}
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Println("Bot polling started")
	offset := 0
	for {
		if ctx.Err() != nil {
			b.logger.Println("Bot polling stopped")
			return
		}

		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Println("Bot polling stopped")
				return
			}
			b.logger.Printf("getUpdates failed: %v", err)
			select {
			case <-time.After(b.retryDelay):
			case <-ctx.Done():
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	command := strings.ToLower(strings.Fields(msg.Text)[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	switch command {
	case "/start", "/help":
		b.send(ctx, chatID, helpText)
	case "/addemail":
		b.commandAddEmail(ctx, chatID, userID)
	case "/myemails":
		b.commandMyEmails(ctx, chatID)
	case "/remove_email":
		b.commandPickAccount(ctx, chatID, "remove", "Select the account to remove:")
	case "/reset_password":
		b.commandPickAccount(ctx, chatID, "resetpass", "Select the account to update:")
	default:
		b.send(ctx, chatID, "Unknown command. Use /help to see what I can do.")
	}
}

func (b *Bot) commandAddEmail(ctx context.Context, chatID, userID int64) {
	issued := b.tokens.IssueAddAccount(chatID, userID)
	link := fmt.Sprintf("%s/email/add?token=%s", b.baseURL, issued.Token)
	ttl := int(time.Until(issued.ExpiresAt).Round(time.Minute).Minutes())
	b.send(ctx, chatID, fmt.Sprintf("Open this link to add your email account:\n%s\n\nThe link expires in %d minutes.", link, ttl))
}

func (b *Bot) commandMyEmails(ctx context.Context, chatID int64) {
	accounts, err := b.accounts.ListByChat(ctx, chatID)
	if err != nil {
		b.logger.Printf("List accounts for chat %d failed: %v", chatID, err)
		b.send(ctx, chatID, "❌ Could not load your accounts. Please try again.")
		return
	}
	if len(accounts) == 0 {
		b.send(ctx, chatID, "You have no email accounts yet. Use /addemail to register one.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your email accounts:\n")
	for i, acc := range accounts {
		status := "active"
		if !acc.IsActive {
			status = "paused"
		}
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, acc.EmailAddress, status)
	}
	b.send(ctx, chatID, sb.String())
}

// commandPickAccount shows one button per account with "<action>:<id>"
// callback data.
func (b *Bot) commandPickAccount(ctx context.Context, chatID int64, action, prompt string) {
	accounts, err := b.accounts.ListByChat(ctx, chatID)
	if err != nil {
		b.logger.Printf("List accounts for chat %d failed: %v", chatID, err)
		b.send(ctx, chatID, "❌ Could not load your accounts. Please try again.")
		return
	}
	if len(accounts) == 0 {
		b.send(ctx, chatID, "You have no email accounts yet. Use /addemail to register one.")
		return
	}

	rows := make([][]telegram.InlineKeyboardButton, 0, len(accounts))
	for _, acc := range accounts {
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         acc.EmailAddress,
			CallbackData: fmt.Sprintf("%s:%d", action, acc.ID),
		}})
	}
	keyboard := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	if err := b.client.SendMarkdown(ctx, chatID, telegram.EscapeMarkdownV2(prompt), keyboard); err != nil {
		b.logger.Printf("Send to chat %d failed: %v", chatID, err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	action, args, ok := parseCallbackData(cb.Data)
	if !ok {
		b.answer(ctx, cb.ID, "Unsupported action")
		return
	}

	switch action {
	case "read":
		b.callbackMailAction(ctx, cb, args, "read")
	case "spam":
		b.callbackMailAction(ctx, cb, args, "spam")
	case "remove":
		b.callbackRemove(ctx, cb, args)
	case "resetpass":
		b.callbackResetPassword(ctx, cb, args)
	default:
		b.answer(ctx, cb.ID, "Unsupported action")
	}
}

// callbackMailAction handles the read:<acct>:<msg> and spam:<acct>:<msg>
// buttons on mail notifications.
func (b *Bot) callbackMailAction(ctx context.Context, cb *telegram.CallbackQuery, args []string, kind string) {
	if len(args) != 2 {
		b.answer(ctx, cb.ID, "Unsupported action")
		return
	}
	accountID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.answer(ctx, cb.ID, "Unsupported action")
		return
	}
	messageID := args[1]

	var actionErr error
	var done string
	switch kind {
	case "read":
		actionErr = b.actions.MarkRead(ctx, accountID, messageID)
		done = "✅ Marked as read"
	case "spam":
		actionErr = b.actions.MarkSpam(ctx, accountID, messageID)
		done = "🚫 Marked as spam"
	}
	if actionErr != nil {
		b.logger.Printf("Mail action %s failed for account %d message %s: %v", kind, accountID, messageID, actionErr)
		b.answer(ctx, cb.ID, "❌ Action failed. The message may be gone.")
		return
	}

	b.answer(ctx, cb.ID, "")
	if cb.Message != nil {
		if err := b.client.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, done, nil); err != nil {
			b.logger.Printf("Edit message failed: %v", err)
		}
	}
}

func (b *Bot) callbackRemove(ctx context.Context, cb *telegram.CallbackQuery, args []string) {
	account, ok := b.ownedAccount(ctx, cb, args)
	if !ok {
		return
	}

	_ = b.actions.Disconnect(ctx, account.ID)
	if err := b.accounts.Remove(ctx, account.ID); err != nil {
		b.logger.Printf("Remove account %d failed: %v", account.ID, err)
		b.answer(ctx, cb.ID, "❌ Could not remove the account.")
		return
	}

	b.answer(ctx, cb.ID, "")
	if cb.Message != nil {
		text := fmt.Sprintf("✅ %s removed.", account.EmailAddress)
		if err := b.client.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text, nil); err != nil {
			b.logger.Printf("Edit message failed: %v", err)
		}
	}
}

func (b *Bot) callbackResetPassword(ctx context.Context, cb *telegram.CallbackQuery, args []string) {
	account, ok := b.ownedAccount(ctx, cb, args)
	if !ok {
		return
	}

	issued := b.tokens.IssueResetPassword(chatIDOf(cb), cb.From.ID, account.ID)
	link := fmt.Sprintf("%s/email/reset-password?token=%s", b.baseURL, issued.Token)

	b.answer(ctx, cb.ID, "")
	if cb.Message != nil {
		text := fmt.Sprintf("Open this link to set a new password for %s:\n%s", account.EmailAddress, link)
		if err := b.client.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text, nil); err != nil {
			b.logger.Printf("Edit message failed: %v", err)
		}
	}
}

// ownedAccount resolves the account id in args and verifies the pressing
// chat owns it. Button presses forwarded to other chats must not work.
func (b *Bot) ownedAccount(ctx context.Context, cb *telegram.CallbackQuery, args []string) (*models.EmailAccount, bool) {
	if len(args) != 1 {
		b.answer(ctx, cb.ID, "Unsupported action")
		return nil, false
	}
	accountID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.answer(ctx, cb.ID, "Unsupported action")
		return nil, false
	}

	account, err := b.accounts.Get(ctx, accountID)
	if err != nil {
		b.answer(ctx, cb.ID, "❌ Account not found.")
		return nil, false
	}
	if account.ChatID != chatIDOf(cb) {
		b.answer(ctx, cb.ID, "❌ This account is not yours.")
		return nil, false
	}
	return account, true
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Printf("Send to chat %d failed: %v", chatID, err)
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.client.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		b.logger.Printf("Answer callback failed: %v", err)
	}
}

// parseCallbackData splits "action:arg1:arg2" callback payloads.
func parseCallbackData(data string) (action string, args []string, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 || parts[0] == "" {
		return "", nil, false
	}
	return parts[0], parts[1:], true
}

// chatIDOf prefers the chat the message lives in and falls back to the
// pressing user for stale callbacks without a message.
func chatIDOf(cb *telegram.CallbackQuery) int64 {
	if cb.Message != nil {
		return cb.Message.Chat.ID
	}
	return cb.From.ID
}
