package wa

import (
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/session"
)

// EventHandler processes whatsmeow events. Lifecycle events drive the session
// machine directly, preserving the gateway's event ordering; data events are
// published on the bus for the sync engine, which consumes them on its own
// goroutine.
type EventHandler struct {
	bus     *bus.Bus
	machine *session.Machine
	adapter *Adapter
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, machine *session.Machine, adapter *Adapter, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		adapter: adapter,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.QR:
		if len(evt.Codes) > 0 {
			h.machine.ChallengeIssued(evt.Codes[0])
		}
	case *events.PairSuccess:
		h.logger.Info("pairing succeeded", zap.String("jid", evt.ID.String()))
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.machine.Established(h.adapter.Identity())
	case *events.Disconnected:
		h.machine.Closed("connection closed", false)
	case *events.LoggedOut:
		h.machine.Closed(evt.Reason.String(), true)
	case *events.ConnectFailure:
		h.machine.Closed(evt.Reason.String(), evt.Reason == events.ConnectFailureLoggedOut)
	case *events.StreamReplaced:
		h.machine.Closed("stream replaced by another client", false)
	case *events.HistorySync:
		if evt.Data == nil {
			return
		}
		h.bus.Publish(bus.Event{Kind: bus.KindGatewayHistory, Timestamp: time.Now(), Payload: evt.Data})
	case *events.Message:
		h.bus.Publish(bus.Event{Kind: bus.KindGatewayMessage, Timestamp: time.Now(), Payload: evt})
	case *events.PushName:
		h.bus.Publish(bus.Event{
			Kind:      bus.KindGatewayContact,
			Timestamp: time.Now(),
			Payload:   bus.ContactUpdate{JID: evt.JID.ToNonAD().String(), Name: evt.NewPushName},
		})
	case *events.Contact:
		h.bus.Publish(bus.Event{
			Kind:      bus.KindGatewayContact,
			Timestamp: time.Now(),
			Payload:   bus.ContactUpdate{JID: evt.JID.ToNonAD().String(), Name: evt.Action.GetFullName()},
		})
	case *events.Receipt:
		h.handleReceipt(evt)
	}
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	var ack int
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		ack = 3
	case types.ReceiptTypeRead:
		ack = 4
	case types.ReceiptTypePlayed:
		ack = 5
	default:
		return
	}
	h.bus.Publish(bus.Event{
		Kind:      bus.KindGatewayReceipt,
		Timestamp: time.Now(),
		Payload:   bus.ReceiptUpdate{ChatJID: evt.Chat.String(), MsgIDs: evt.MessageIDs, Ack: ack},
	})
}
