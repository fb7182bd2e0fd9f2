package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/contacts"
	"github.com/edubauerdev/wasync/internal/store"
)

type fakeMarker struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeMarker) MarkConnected() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeMarker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus, *fakeMarker) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wasync.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	marker := &fakeMarker{}
	engine := NewEngine(db, b, contacts.NewResolver(), marker, zap.NewNop())
	return engine, db, b, marker
}

func historyConversation(jid, name string, ts uint64, bodies ...string) *waHistorySync.Conversation {
	conv := &waHistorySync.Conversation{
		ID:                    proto.String(jid),
		Name:                  proto.String(name),
		ConversationTimestamp: proto.Uint64(ts),
	}
	for i, body := range bodies {
		conv.Messages = append(conv.Messages, &waHistorySync.HistorySyncMsg{
			Message: &waWeb.WebMessageInfo{
				Key: &waCommon.MessageKey{
					RemoteJID: proto.String(jid),
					ID:        proto.String(jid + "-" + string(rune('A'+i))),
				},
				Message:          &waE2E.Message{Conversation: proto.String(body)},
				MessageTimestamp: proto.Uint64(ts + uint64(i)),
			},
		})
	}
	return conv
}

func TestWriteBatchesPreservesOrderAndIsolatesFailures(t *testing.T) {
	records := make([]int, 120)
	for i := range records {
		records[i] = i
	}

	var got []int
	batch := 0
	written := WriteBatches(context.Background(), records, 50, 0, func(chunk []int) error {
		batch++
		if batch == 2 {
			return errors.New("disk full")
		}
		got = append(got, chunk...)
		return nil
	}, zap.NewNop())

	if written != 70 {
		t.Errorf("written = %d, want 70 (batches 1 and 3)", written)
	}
	if len(got) != 70 {
		t.Fatalf("persisted %d records, want 70", len(got))
	}
	// Batch 1 holds 0..49, batch 3 holds 100..119, in order.
	if got[0] != 0 || got[49] != 49 || got[50] != 100 || got[69] != 119 {
		t.Errorf("order not preserved: %v", got)
	}
}

func TestWriteBatchesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	records := make([]int, 100)
	calls := 0
	written := WriteBatches(ctx, records, 25, time.Hour, func(chunk []int) error {
		calls++
		cancel()
		return nil
	}, zap.NewNop())
	if calls != 1 {
		t.Errorf("upsert calls = %d, want 1 (cancelled during pause)", calls)
	}
	if written != 25 {
		t.Errorf("written = %d, want 25", written)
	}
}

func TestIngestHistory(t *testing.T) {
	engine, db, b, marker := testEngine(t)

	done, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	data := &waHistorySync.HistorySync{
		Pushnames: []*waHistorySync.Pushname{
			{ID: proto.String("5511111@s.whatsapp.net"), Pushname: proto.String("Alice")},
		},
		Conversations: []*waHistorySync.Conversation{
			historyConversation("5511111@s.whatsapp.net", "", 1700000000, "hi", "how are you"),
			historyConversation("5522222@s.whatsapp.net", "Bob", 1700000100, "hello"),
			historyConversation("123-456@g.us", "Some Group", 1700000200, "group noise"),
			historyConversation("status@broadcast", "", 1700000300, "status noise"),
		},
	}

	engine.IngestHistory(context.Background(), data)

	chats, err := db.ListChats(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("chat count = %d, want 2 (groups and status filtered)", len(chats))
	}

	alice, err := db.GetChat("5511111@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if alice.Name != "Alice" {
		t.Errorf("chat name = %q, want push name from snapshot", alice.Name)
	}
	if alice.LastMessageAt != 1700000000000 {
		t.Errorf("chat timestamp = %d, want milliseconds", alice.LastMessageAt)
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("message count = %d, want 3", count)
	}

	if marker.count() != 1 {
		t.Errorf("MarkConnected calls = %d, want 1", marker.count())
	}

	if cp, _ := db.GetCheckpoint(CheckpointLastSnapshot); cp == "" {
		t.Error("snapshot checkpoint not written")
	}

	select {
	case evt := <-done:
		if evt.Kind != bus.KindSyncCompleted {
			t.Errorf("event kind = %q", evt.Kind)
		}
	default:
		t.Error("sync completion event not published")
	}
}

func TestIngestHistoryRerunIsIdempotent(t *testing.T) {
	engine, db, _, _ := testEngine(t)

	data := &waHistorySync.HistorySync{
		Conversations: []*waHistorySync.Conversation{
			historyConversation("5511111@s.whatsapp.net", "Alice", 1700000000, "hi", "again"),
		},
	}

	engine.IngestHistory(context.Background(), data)
	engine.IngestHistory(context.Background(), data)

	chats, _ := db.ChatCount()
	msgs, _ := db.MessageCount()
	if chats != 1 || msgs != 2 {
		t.Errorf("after rerun: chats=%d msgs=%d, want 1 and 2", chats, msgs)
	}
}

func liveMessage(chat, sender, id, body string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        id,
			PushName:  "Carol",
			Timestamp: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: chat, Server: types.DefaultUserServer},
				Sender:   types.JID{User: sender, Server: types.DefaultUserServer},
				IsFromMe: fromMe,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestIngestLive(t *testing.T) {
	engine, db, b, _ := testEngine(t)

	upserted, unsub := b.Subscribe("message.", 1)
	defer unsub()

	engine.IngestLive(liveMessage("5533333", "5533333", "LIVE1", "incoming text", false))

	chat, err := db.GetChat("5533333@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil {
		t.Fatal("chat row not created")
	}
	if chat.Name != "Carol" {
		t.Errorf("chat name = %q, want push name fallback", chat.Name)
	}

	m, err := db.GetMessage("5533333@s.whatsapp.net", "LIVE1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Body != "incoming text" {
		t.Fatalf("message not persisted: %+v", m)
	}
	if chat.LastMessageAt != m.Timestamp {
		t.Errorf("chat activity %d != message timestamp %d", chat.LastMessageAt, m.Timestamp)
	}

	select {
	case evt := <-upserted:
		if evt.Kind != bus.KindMessageUpserted {
			t.Errorf("event kind = %q", evt.Kind)
		}
	default:
		t.Error("upsert event not published")
	}
}

func TestIngestLiveSkipsGroupsAndStatus(t *testing.T) {
	engine, db, _, _ := testEngine(t)

	group := liveMessage("x", "x", "G1", "group message", false)
	group.Info.Chat = types.JID{User: "123-456", Server: types.GroupServer}
	engine.IngestLive(group)

	status := liveMessage("x", "x", "S1", "status update", false)
	status.Info.Chat = types.JID{User: "status", Server: "broadcast"}
	engine.IngestLive(status)

	if count, _ := db.MessageCount(); count != 0 {
		t.Errorf("message count = %d, want 0", count)
	}
}

func TestEngineProcessesBusEvents(t *testing.T) {
	engine, db, b, _ := testEngine(t)
	engine.Start()
	defer engine.Stop()

	b.Publish(bus.Event{
		Kind:      bus.KindGatewayMessage,
		Timestamp: time.Now(),
		Payload:   liveMessage("5544444", "5544444", "BUS1", "via the bus", false),
	})

	deadline := time.After(2 * time.Second)
	for {
		m, err := db.GetMessage("5544444@s.whatsapp.net", "BUS1")
		if err != nil {
			t.Fatal(err)
		}
		if m != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("message never persisted by engine goroutine")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEngineAppliesReceipts(t *testing.T) {
	engine, db, _, _ := testEngine(t)

	engine.IngestLive(liveMessage("5555555", "5555555", "R1", "to be read", true))

	engine.handleEvent(context.Background(), bus.Event{
		Kind:    bus.KindGatewayReceipt,
		Payload: bus.ReceiptUpdate{ChatJID: "5555555@s.whatsapp.net", MsgIDs: []string{"R1"}, Ack: 4},
	})

	m, err := db.GetMessage("5555555@s.whatsapp.net", "R1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Ack != 4 {
		t.Errorf("ack = %d, want 4", m.Ack)
	}
}

func TestEngineMergesContactUpdates(t *testing.T) {
	engine, _, _, _ := testEngine(t)

	engine.handleEvent(context.Background(), bus.Event{
		Kind:    bus.KindGatewayContact,
		Payload: bus.ContactUpdate{JID: "5566666@s.whatsapp.net", Name: "Dave"},
	})

	if got := engine.resolver.Lookup("5566666@s.whatsapp.net"); got != "Dave" {
		t.Errorf("resolver lookup = %q, want Dave", got)
	}
}
