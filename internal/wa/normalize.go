package wa

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/store"
)

// BroadcastStatusJID is the reserved status-broadcast pseudo chat.
const BroadcastStatusJID = "status@broadcast"

// millisYear2000 is 2000-01-01T00:00:00Z in millisecond epoch. Anything below
// this is assumed to be second-granular and rescaled.
const millisYear2000 = 946684800000

// nowFunc is swapped in tests.
var nowFunc = time.Now

// IsGroupJID reports whether the identifier belongs to a multi-party group.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+types.GroupServer)
}

// MediaMetadata is the opaque blob persisted alongside media messages; it
// holds exactly the fields needed to fetch the bytes from the gateway later.
// Binary fields are base64; absent source fields stay null, never "".
type MediaMetadata struct {
	URL           *string `json:"url"`
	DirectPath    *string `json:"direct_path"`
	MimeType      *string `json:"mime_type"`
	MediaKey      *string `json:"media_key"`
	FileSHA256    *string `json:"file_sha256"`
	FileEncSHA256 *string `json:"file_enc_sha256"`
	FileLength    *uint64 `json:"file_length"`
}

type rawInfo struct {
	chatJID      string
	msgID        string
	participant  string
	remoteJID    string
	fromMe       bool
	rawTimestamp int64 // seconds or milliseconds, normalized later
	ack          int
}

// NormalizeLiveMessage converts a live gateway event into a canonical record,
// or nil when the message is not representable.
func NormalizeLiveMessage(evt *events.Message, logger *zap.Logger) *store.Message {
	info := evt.Info
	return normalize(evt.Message, rawInfo{
		chatJID:      info.Chat.String(),
		msgID:        info.ID,
		participant:  info.Sender.String(),
		fromMe:       info.IsFromMe,
		rawTimestamp: info.Timestamp.UnixMilli(),
	}, logger)
}

// NormalizeHistoryMessage converts a history snapshot entry into a canonical
// record, or nil when the message is not representable.
func NormalizeHistoryMessage(info *waWeb.WebMessageInfo, chatJID string, logger *zap.Logger) *store.Message {
	key := info.GetKey()
	return normalize(info.GetMessage(), rawInfo{
		chatJID:      chatJID,
		msgID:        key.GetID(),
		participant:  key.GetParticipant(),
		remoteJID:    key.GetRemoteJID(),
		fromMe:       key.GetFromMe(),
		rawTimestamp: int64(info.GetMessageTimestamp()),
		ack:          int(info.GetStatus()),
	}, logger)
}

// normalize is the single conversion point from "maybe absent" gateway fields
// to the strict store record. A panic on a malformed payload discards that one
// message; it never aborts the batch.
func normalize(msg *waE2E.Message, raw rawInfo, logger *zap.Logger) (out *store.Message) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("message normalization panic",
					zap.Any("panic", r),
					zap.String("msg_id", raw.msgID),
					zap.String("chat_jid", raw.chatJID))
			}
			out = nil
		}
	}()

	if msg == nil {
		return nil
	}

	msgType := classifyMessage(msg)
	body := extractContent(msg)
	hasMedia := isMediaType(msgType)

	// Key-distribution updates and other control traffic have neither text
	// nor media; there is nothing to show, so nothing to store.
	if body == "" && !hasMedia {
		return nil
	}

	m := &store.Message{
		ChatJID:     raw.chatJID,
		MsgID:       raw.msgID,
		SenderJID:   resolveSender(raw),
		Body:        body,
		MessageType: msgType,
		FromMe:      raw.fromMe,
		HasMedia:    hasMedia,
		Ack:         raw.ack,
		Timestamp:   normalizeTimestamp(raw.rawTimestamp),
	}

	if hasMedia {
		meta := extractMediaMetadata(msg, msgType)
		if blob, err := json.Marshal(meta); err == nil {
			s := string(blob)
			m.MediaMeta = &s
		}
	}

	return m
}

// resolveSender picks the sender identifier: participant, else the chat's
// remote id, else the chat id itself. Never empty.
func resolveSender(raw rawInfo) string {
	if raw.participant != "" {
		return raw.participant
	}
	if raw.remoteJID != "" {
		return raw.remoteJID
	}
	return raw.chatJID
}

// normalizeTimestamp outputs milliseconds. Zero or missing becomes the current
// wall clock; second-granular inputs are rescaled.
func normalizeTimestamp(raw int64) int64 {
	if raw <= 0 {
		return nowFunc().UnixMilli()
	}
	if raw < millisYear2000 {
		return raw * 1000
	}
	return raw
}

// NormalizeChatTimestamp is the chat-list variant: an unknown (zero) activity
// timestamp becomes a minimal positive placeholder so the chat sorts after
// nothing but before any real activity.
func NormalizeChatTimestamp(raw int64) int64 {
	if raw <= 0 {
		return 1
	}
	if raw < millisYear2000 {
		return raw * 1000
	}
	return raw
}

func classifyMessage(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return store.TypeImage
	case msg.GetVideoMessage() != nil:
		return store.TypeVideo
	case msg.GetAudioMessage() != nil:
		return store.TypeAudio
	case msg.GetDocumentMessage() != nil:
		return store.TypeDocument
	case msg.GetStickerMessage() != nil:
		return store.TypeSticker
	case msg.GetReactionMessage() != nil:
		return store.TypeReaction
	case msg.GetProtocolMessage() != nil:
		return store.TypeProtocol
	default:
		return store.TypeText
	}
}

func isMediaType(msgType string) bool {
	switch msgType {
	case store.TypeImage, store.TypeVideo, store.TypeAudio, store.TypeDocument, store.TypeSticker:
		return true
	}
	return false
}

func extractContent(msg *waE2E.Message) string {
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		if t := ext.GetText(); t != "" {
			return t
		}
	}
	if img := msg.GetImageMessage(); img != nil {
		if c := img.GetCaption(); c != "" {
			return c
		}
		return "[Image]"
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		if c := vid.GetCaption(); c != "" {
			return c
		}
		return "[Video]"
	}
	if msg.GetAudioMessage() != nil {
		return "[Audio]"
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		if c := doc.GetCaption(); c != "" {
			return c
		}
		return "[Document]"
	}
	if msg.GetStickerMessage() != nil {
		return "[Sticker]"
	}
	if prot := msg.GetProtocolMessage(); prot != nil && prot.GetType() == waE2E.ProtocolMessage_REVOKE {
		return "[Message deleted]"
	}
	if rx := msg.GetReactionMessage(); rx != nil && rx.GetText() != "" {
		return fmt.Sprintf("[Reaction: %s]", rx.GetText())
	}
	return ""
}

func extractMediaMetadata(msg *waE2E.Message, msgType string) MediaMetadata {
	switch msgType {
	case store.TypeImage:
		img := msg.GetImageMessage()
		return mediaMeta(img.GetURL(), img.GetDirectPath(), img.GetMimetype(),
			img.GetMediaKey(), img.GetFileSHA256(), img.GetFileEncSHA256(), img.GetFileLength())
	case store.TypeVideo:
		vid := msg.GetVideoMessage()
		return mediaMeta(vid.GetURL(), vid.GetDirectPath(), vid.GetMimetype(),
			vid.GetMediaKey(), vid.GetFileSHA256(), vid.GetFileEncSHA256(), vid.GetFileLength())
	case store.TypeAudio:
		aud := msg.GetAudioMessage()
		return mediaMeta(aud.GetURL(), aud.GetDirectPath(), aud.GetMimetype(),
			aud.GetMediaKey(), aud.GetFileSHA256(), aud.GetFileEncSHA256(), aud.GetFileLength())
	case store.TypeDocument:
		doc := msg.GetDocumentMessage()
		return mediaMeta(doc.GetURL(), doc.GetDirectPath(), doc.GetMimetype(),
			doc.GetMediaKey(), doc.GetFileSHA256(), doc.GetFileEncSHA256(), doc.GetFileLength())
	case store.TypeSticker:
		stk := msg.GetStickerMessage()
		return mediaMeta(stk.GetURL(), stk.GetDirectPath(), stk.GetMimetype(),
			stk.GetMediaKey(), stk.GetFileSHA256(), stk.GetFileEncSHA256(), stk.GetFileLength())
	}
	return MediaMetadata{}
}

func mediaMeta(url, directPath, mimeType string, mediaKey, fileSHA256, fileEncSHA256 []byte, fileLength uint64) MediaMetadata {
	return MediaMetadata{
		URL:           strOrNull(url),
		DirectPath:    strOrNull(directPath),
		MimeType:      strOrNull(mimeType),
		MediaKey:      b64OrNull(mediaKey),
		FileSHA256:    b64OrNull(fileSHA256),
		FileEncSHA256: b64OrNull(fileEncSHA256),
		FileLength:    u64OrNull(fileLength),
	}
}

func strOrNull(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func b64OrNull(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(b)
	return &s
}

func u64OrNull(v uint64) *uint64 {
	if v == 0 {
		return nil
	}
	return &v
}
