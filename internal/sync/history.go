package sync

import (
	"context"
	"strconv"
	"time"

	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/store"
	"github.com/edubauerdev/wasync/internal/wa"
)

// CheckpointLastSnapshot records when the most recent history snapshot
// finished ingesting.
const CheckpointLastSnapshot = "history.last_snapshot"

// IngestHistory persists one history snapshot: push names into the resolver,
// then chats, then messages, both in paced batches. Group and status
// broadcast chats are skipped entirely.
func (e *Engine) IngestHistory(ctx context.Context, data *waHistorySync.HistorySync) {
	start := time.Now()

	names := make(map[string]string, len(data.GetPushnames()))
	for _, pn := range data.GetPushnames() {
		names[pn.GetID()] = pn.GetPushname()
	}
	e.resolver.Merge(names)

	var chats []store.Chat
	var msgs []store.Message
	for _, conv := range data.GetConversations() {
		jid := conv.GetID()
		if jid == "" || wa.IsGroupJID(jid) || jid == wa.BroadcastStatusJID {
			continue
		}

		chats = append(chats, store.Chat{
			JID:           jid,
			Name:          e.resolver.Resolve(jid, conv.GetName()),
			UnreadCount:   int(conv.GetUnreadCount()),
			Archived:      conv.GetArchived(),
			LastMessageAt: wa.NormalizeChatTimestamp(int64(conv.GetConversationTimestamp())),
		})

		for _, hm := range conv.GetMessages() {
			info := hm.GetMessage()
			if info == nil {
				continue
			}
			if m := wa.NormalizeHistoryMessage(info, jid, e.logger); m != nil {
				msgs = append(msgs, *m)
			}
		}
	}

	chatsWritten := WriteBatches(ctx, chats, ChatBatchSize, ChatBatchPause, e.db.UpsertChats, e.logger)
	msgsWritten := WriteBatches(ctx, msgs, MessageBatchSize, MessageBatchPause, e.db.UpsertMessages, e.logger)

	// The first persisted snapshot is the point where the session is usable.
	e.marker.MarkConnected()

	if err := e.db.SetCheckpoint(CheckpointLastSnapshot, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("checkpoint write failed", zap.Error(err))
	}

	e.logger.Info("history snapshot ingested",
		zap.Int("chats", chatsWritten),
		zap.Int("messages", msgsWritten),
		zap.Duration("took", time.Since(start)))

	e.bus.Publish(bus.Event{Kind: bus.KindSyncCompleted, Timestamp: time.Now(), Payload: msgsWritten})
}
