// Package outbox drains queued outgoing messages through the gateway.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/store"
)

// pollInterval is how often the sender checks for queued entries.
const pollInterval = 500 * time.Millisecond

// TextSender is the gateway surface the sender needs.
type TextSender interface {
	SendText(ctx context.Context, jid, text string) (string, error)
}

// Sender polls the outbox table and pushes queued messages to the gateway.
// Entries are sent oldest first; a failed send marks the entry failed and
// moves on, it is not retried automatically.
type Sender struct {
	db     *store.DB
	bus    *bus.Bus
	gw     TextSender
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, b *bus.Bus, gw TextSender, logger *zap.Logger) *Sender {
	return &Sender{db: db, bus: b, gw: gw, logger: logger}
}

// Start begins polling. Call Stop to halt.
func (s *Sender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.drain(ctx)
			}
		}
	}()
}

// Stop halts the sender and waits for the poll goroutine to exit.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sender) drain(ctx context.Context) {
	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("outbox poll failed", zap.Error(err))
		return
	}
	for i := range entries {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, &entries[i])
	}
}

func (s *Sender) send(ctx context.Context, entry *store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("outbox mark sending failed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		return
	}

	serverID, err := s.gw.SendText(ctx, entry.ChatJID, entry.Body)
	if err != nil {
		s.logger.Warn("send failed",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("chat_jid", entry.ChatJID),
			zap.Error(err))
		if dbErr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); dbErr != nil {
			s.logger.Error("outbox mark failed failed",
				zap.String("client_msg_id", entry.ClientMsgID), zap.Error(dbErr))
		}
		s.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Timestamp: time.Now(), Payload: entry.ClientMsgID})
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverID); err != nil {
		s.logger.Error("outbox mark sent failed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
	}

	// Optimistic local record so the sent message shows up in listings
	// before the gateway echoes it back.
	now := time.Now().UnixMilli()
	if err := s.db.UpsertMessage(&store.Message{
		ChatJID:     entry.ChatJID,
		MsgID:       serverID,
		SenderJID:   entry.ChatJID,
		Body:        entry.Body,
		MessageType: store.TypeText,
		FromMe:      true,
		Ack:         1,
		Timestamp:   now,
	}); err != nil {
		s.logger.Error("optimistic upsert failed",
			zap.String("server_msg_id", serverID), zap.Error(err))
	}
	if err := s.db.UpsertChat(&store.Chat{JID: entry.ChatJID, LastMessageAt: now}); err != nil {
		s.logger.Error("chat touch failed",
			zap.String("chat_jid", entry.ChatJID), zap.Error(err))
	}

	s.bus.Publish(bus.Event{Kind: bus.KindSendAck, Timestamp: time.Now(), Payload: serverID})
}
