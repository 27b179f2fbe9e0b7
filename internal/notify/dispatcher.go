package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/deck-notify/internal/model"
)

// SendOptions carries per-message metadata: an optional inline keyboard and
// the audit classification.
type SendOptions struct {
	Keyboard *Keyboard
	Kind     string
	CardID   int64
}

// Sender is the dispatch surface both engines talk to.
type Sender interface {
	// Send delivers a message to a direct recipient. Returns true only if
	// the platform accepted it; failures are logged, never propagated.
	Send(ctx context.Context, chatID int64, text string, opts SendOptions) bool

	// SendLog delivers a message to the channel thread bound to the board,
	// falling back to the global log thread when the board is unbound.
	SendLog(ctx context.Context, boardID int64, text string, opts SendOptions) bool
}

// ThreadResolver looks up the delivery thread bound to a board.
type ThreadResolver interface {
	GetBoardThread(ctx context.Context, boardID int64) (*int64, error)
}

// AuditLog records successful deliveries.
type AuditLog interface {
	RecordDelivery(ctx context.Context, d model.Delivery) error
}

// Dispatcher wraps the transport behind a global and a per-recipient rate
// limit and renders the internal markup dialect before every send.
type Dispatcher struct {
	transport    Deliverer
	global       Limiter
	perRecipient RecipientLimiter
	threads      ThreadResolver
	audit        AuditLog

	forumChatID    int64
	fallbackThread *int64

	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher. threads and audit may be nil, in which
// case board bindings always fall back and deliveries are not recorded.
func NewDispatcher(
	transport Deliverer,
	global Limiter,
	perRecipient RecipientLimiter,
	threads ThreadResolver,
	audit AuditLog,
	forumChatID int64,
	fallbackThread *int64,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		transport:      transport,
		global:         global,
		perRecipient:   perRecipient,
		threads:        threads,
		audit:          audit,
		forumChatID:    forumChatID,
		fallbackThread: fallbackThread,
		logger:         logger,
	}
}

// Send delivers one rendered message to chatID.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string, opts SendOptions) bool {
	return d.deliver(ctx, Message{
		ChatID:   chatID,
		Text:     RenderHTML(text),
		Keyboard: opts.Keyboard,
	}, opts)
}

// SendLog delivers one rendered message to the channel thread for boardID.
func (d *Dispatcher) SendLog(ctx context.Context, boardID int64, text string, opts SendOptions) bool {
	if d.forumChatID == 0 {
		return true
	}

	thread := d.fallbackThread
	if d.threads != nil {
		bound, err := d.threads.GetBoardThread(ctx, boardID)
		if err != nil {
			d.logger.Warn("board thread lookup failed", "board", boardID, "error", err)
		} else if bound != nil {
			thread = bound
		}
	}

	return d.deliver(ctx, Message{
		ChatID:   d.forumChatID,
		Text:     RenderHTML(text),
		ThreadID: thread,
		Keyboard: opts.Keyboard,
	}, opts)
}

// deliver waits for both rate-limit slots, performs the send, and records
// the outcome. Transport and platform errors are caught here and reported
// as false.
func (d *Dispatcher) deliver(ctx context.Context, msg Message, opts SendOptions) bool {
	d.global.Wait()
	d.perRecipient.WaitFor(msg.ChatID)

	if err := d.transport.Deliver(ctx, msg); err != nil {
		d.logger.Warn("delivery failed",
			"chat", msg.ChatID, "kind", opts.Kind, "card", opts.CardID, "error", err)
		return false
	}

	if d.audit != nil {
		rec := model.Delivery{
			ID:     uuid.New().String(),
			ChatID: msg.ChatID,
			Kind:   opts.Kind,
			CardID: opts.CardID,
			SentAt: time.Now().UTC(),
		}
		if err := d.audit.RecordDelivery(ctx, rec); err != nil {
			d.logger.Warn("recording delivery failed", "chat", msg.ChatID, "error", err)
		}
	}

	return true
}
