package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace prefix,
// so "wa." matches every gateway data event.
const (
	KindGatewayMessage  = "wa.message"       // payload: *events.Message
	KindGatewayHistory  = "wa.history"       // payload: *waHistorySync.HistorySync
	KindGatewayContact  = "wa.contact"       // payload: ContactUpdate
	KindGatewayReceipt  = "wa.receipt"       // payload: ReceiptUpdate
	KindSessionStatus   = "session.status_changed"
	KindSessionQR       = "session.challenge"
	KindMessageUpserted = "message.upserted"
	KindSyncCompleted   = "sync.history_completed"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ContactUpdate carries a contact display-name change from the gateway.
type ContactUpdate struct {
	JID  string
	Name string
}

// ReceiptUpdate carries a delivery-ack change for one or more messages.
type ReceiptUpdate struct {
	ChatJID string
	MsgIDs  []string
	Ack     int
}
