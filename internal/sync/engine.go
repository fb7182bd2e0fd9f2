package sync

import (
	"context"

	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/contacts"
	"github.com/edubauerdev/wasync/internal/store"
)

// StatusMarker is notified when the first history snapshot has been persisted
// and the session can be reported as fully connected.
type StatusMarker interface {
	MarkConnected()
}

// Engine consumes gateway data events from the bus and writes them to the
// local store. All writes happen on a single goroutine, so ingestion of a
// history snapshot and a live message never interleave.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	resolver *contacts.Resolver
	marker   StatusMarker
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, b *bus.Bus, resolver *contacts.Resolver, marker StatusMarker, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		bus:      b,
		resolver: resolver,
		marker:   marker,
		logger:   logger,
	}
}

// Start subscribes to gateway events and begins processing them.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	ch, unsubscribe := e.bus.Subscribe("wa.", 256)
	go func() {
		defer close(e.done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			}
		}
	}()
}

// Stop halts the engine and waits for the worker goroutine to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindGatewayHistory:
		data, ok := evt.Payload.(*waHistorySync.HistorySync)
		if !ok {
			return
		}
		e.IngestHistory(ctx, data)
	case bus.KindGatewayMessage:
		msg, ok := evt.Payload.(*events.Message)
		if !ok {
			return
		}
		e.IngestLive(msg)
	case bus.KindGatewayContact:
		update, ok := evt.Payload.(bus.ContactUpdate)
		if !ok {
			return
		}
		e.resolver.Put(update.JID, update.Name)
	case bus.KindGatewayReceipt:
		update, ok := evt.Payload.(bus.ReceiptUpdate)
		if !ok {
			return
		}
		if err := e.db.UpdateAck(update.ChatJID, update.MsgIDs, update.Ack); err != nil {
			e.logger.Error("ack update failed",
				zap.String("chat_jid", update.ChatJID),
				zap.Error(err))
		}
	}
}
