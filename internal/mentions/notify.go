package mentions

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"logbook/api/internal/doctree"
)

// ErrUnknownRecipient is returned by a RecipientLookup for users it cannot reach.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Recipient is a mentioned user that can be notified.
type Recipient struct {
	UserID string
	Name   string
	Email  string
}

// Notice describes the entry a user was mentioned in.
type Notice struct {
	EntryID string
	Title   string
	Author  string
	Excerpt string
	URL     string
}

type RecipientLookup interface {
	Recipient(ctx context.Context, userID string) (Recipient, error)
}

type Mailer interface {
	SendMentionEmail(to Recipient, notice Notice) error
}

// Notifier delivers a notice to every user newly mentioned by a save.
type Notifier struct {
	recipients RecipientLookup
	mailer     Mailer
}

func NewNotifier(recipients RecipientLookup, mailer Mailer) *Notifier {
	return &Notifier{recipients: recipients, mailer: mailer}
}

// Notify sends the notice to User mentions present in current but not in previous and returns
// how many were sent. Unknown users are skipped; delivery failures are collected and returned
// together after every recipient has been tried.
func (n *Notifier) Notify(ctx context.Context, notice Notice, previous, current []doctree.Mentionable) (int, error) {
	added := ByType(Added(previous, current), doctree.EntityUser)
	sent := 0
	var errs []error
	for _, ref := range added {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		to, err := n.recipients.Recipient(ctx, ref.ID)
		if errors.Is(err, ErrUnknownRecipient) {
			log.Debug().Str("user_id", ref.ID).Str("entry_id", notice.EntryID).Msg("mentions: skipping unknown user")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup user %s: %w", ref.ID, err))
			continue
		}
		if err := n.mailer.SendMentionEmail(to, notice); err != nil {
			errs = append(errs, fmt.Errorf("notify user %s: %w", ref.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
