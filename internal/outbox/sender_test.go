package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/store"
)

type fakeGateway struct {
	mu     sync.Mutex
	sent   []string
	failOn string
}

func (f *fakeGateway) SendText(ctx context.Context, jid, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == f.failOn {
		return "", errors.New("gateway unavailable")
	}
	f.sent = append(f.sent, text)
	return "SRV" + text, nil
}

func testSender(t *testing.T) (*Sender, *store.DB, *fakeGateway, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wasync.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{}
	b := bus.New()
	return NewSender(db, b, gw, zap.NewNop()), db, gw, b
}

func TestDrainSendsQueuedOldestFirst(t *testing.T) {
	sender, db, gw, _ := testSender(t)

	if err := db.QueueOutbox("c1", "5511999@s.whatsapp.net", "first"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c2", "5511999@s.whatsapp.net", "second"); err != nil {
		t.Fatal(err)
	}

	sender.drain(context.Background())

	if len(gw.sent) != 2 || gw.sent[0] != "first" || gw.sent[1] != "second" {
		t.Errorf("sent = %v, want [first second] in order", gw.sent)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 after drain", len(pending))
	}
}

func TestDrainRecordsOptimisticMessage(t *testing.T) {
	sender, db, _, b := testSender(t)

	acks, unsub := b.Subscribe(bus.KindSendAck, 1)
	defer unsub()

	if err := db.QueueOutbox("c1", "5511999@s.whatsapp.net", "hello"); err != nil {
		t.Fatal(err)
	}
	sender.drain(context.Background())

	m, err := db.GetMessage("5511999@s.whatsapp.net", "SRVhello")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("optimistic message not written")
	}
	if !m.FromMe || m.Ack != 1 || m.MessageType != store.TypeText {
		t.Errorf("optimistic message = %+v", m)
	}

	chat, err := db.GetChat("5511999@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || chat.LastMessageAt != m.Timestamp {
		t.Errorf("chat not touched by send: %+v", chat)
	}

	select {
	case evt := <-acks:
		if evt.Payload.(string) != "SRVhello" {
			t.Errorf("ack payload = %v", evt.Payload)
		}
	default:
		t.Error("send ack not published")
	}
}

func TestDrainMarksFailureAndContinues(t *testing.T) {
	sender, db, gw, b := testSender(t)
	gw.failOn = "doomed"

	failures, unsub := b.Subscribe(bus.KindSendFailed, 1)
	defer unsub()

	if err := db.QueueOutbox("c1", "5511999@s.whatsapp.net", "doomed"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c2", "5511999@s.whatsapp.net", "fine"); err != nil {
		t.Fatal(err)
	}

	sender.drain(context.Background())

	if len(gw.sent) != 1 || gw.sent[0] != "fine" {
		t.Errorf("sent = %v, want later entry despite earlier failure", gw.sent)
	}

	select {
	case evt := <-failures:
		if evt.Payload.(string) != "c1" {
			t.Errorf("failure payload = %v", evt.Payload)
		}
	default:
		t.Error("send failure not published")
	}

	// Failed entries stay failed; they are not re-queued.
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}
