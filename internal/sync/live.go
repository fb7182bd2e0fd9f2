package sync

import (
	"time"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/store"
	"github.com/edubauerdev/wasync/internal/wa"
)

// IngestLive persists a single live message. The chat row is touched first so
// the message never references a missing chat; a failed message write is
// logged and dropped, it does not affect later messages.
func (e *Engine) IngestLive(evt *events.Message) {
	chatJID := evt.Info.Chat.String()
	if wa.IsGroupJID(chatJID) || chatJID == wa.BroadcastStatusJID {
		return
	}

	m := wa.NormalizeLiveMessage(evt, e.logger)
	if m == nil {
		return
	}

	name := e.resolver.Lookup(chatJID)
	if name == "" && !m.FromMe && evt.Info.PushName != "" {
		name = evt.Info.PushName
		e.resolver.Put(chatJID, name)
	}

	// An empty name is safe here: the chat upsert keeps any existing name.
	if err := e.db.UpsertChat(&store.Chat{
		JID:           chatJID,
		Name:          name,
		LastMessageAt: m.Timestamp,
	}); err != nil {
		e.logger.Error("chat upsert failed",
			zap.String("chat_jid", chatJID),
			zap.Error(err))
		return
	}

	if err := e.db.UpsertMessage(m); err != nil {
		e.logger.Error("message upsert failed",
			zap.String("chat_jid", chatJID),
			zap.String("msg_id", m.MsgID),
			zap.Error(err))
		return
	}

	e.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Timestamp: time.Now(), Payload: *m})
}
