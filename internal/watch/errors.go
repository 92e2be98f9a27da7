package watch

import (
	"errors"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// ErrAccountNotFound is returned when an action names an account the
// directory does not know.
var ErrAccountNotFound = errors.New("account not found")

// ErrClosed is returned after the manager has been shut down.
var ErrClosed = errors.New("watch manager closed")

// isFolderMissing reports whether an IMAP error means the target mailbox
// does not exist. Servers signal this with TRYCREATE or NONEXISTENT; some
// only put the hint in the response text.
func isFolderMissing(err error) bool {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		if imapErr.Code == imap.ResponseCodeTryCreate || imapErr.Code == imap.ResponseCodeNonExistent {
			return true
		}
	}
	if err != nil && strings.Contains(strings.ToUpper(err.Error()), "TRYCREATE") {
		return true
	}
	return false
}
