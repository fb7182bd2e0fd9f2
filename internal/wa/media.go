package wa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/edubauerdev/wasync/internal/store"
)

// DownloadMedia fetches the full media bytes for a persisted message,
// reconstructing the gateway's media payload from the stored metadata blob.
func (a *Adapter) DownloadMedia(ctx context.Context, msgType string, metaJSON string) ([]byte, error) {
	var meta MediaMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("decode media metadata: %w", err)
	}
	msg, err := meta.toDownloadable(msgType)
	if err != nil {
		return nil, err
	}
	data, err := a.client.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

func (m *MediaMetadata) toDownloadable(msgType string) (whatsmeow.DownloadableMessage, error) {
	mediaKey, err := decodeB64(m.MediaKey)
	if err != nil {
		return nil, fmt.Errorf("media key: %w", err)
	}
	fileSHA256, err := decodeB64(m.FileSHA256)
	if err != nil {
		return nil, fmt.Errorf("file sha256: %w", err)
	}
	fileEncSHA256, err := decodeB64(m.FileEncSHA256)
	if err != nil {
		return nil, fmt.Errorf("file enc sha256: %w", err)
	}

	switch msgType {
	case store.TypeImage:
		return &waE2E.ImageMessage{
			URL: m.URL, DirectPath: m.DirectPath, Mimetype: m.MimeType,
			MediaKey: mediaKey, FileSHA256: fileSHA256, FileEncSHA256: fileEncSHA256,
			FileLength: m.FileLength,
		}, nil
	case store.TypeVideo:
		return &waE2E.VideoMessage{
			URL: m.URL, DirectPath: m.DirectPath, Mimetype: m.MimeType,
			MediaKey: mediaKey, FileSHA256: fileSHA256, FileEncSHA256: fileEncSHA256,
			FileLength: m.FileLength,
		}, nil
	case store.TypeAudio:
		return &waE2E.AudioMessage{
			URL: m.URL, DirectPath: m.DirectPath, Mimetype: m.MimeType,
			MediaKey: mediaKey, FileSHA256: fileSHA256, FileEncSHA256: fileEncSHA256,
			FileLength: m.FileLength,
		}, nil
	case store.TypeDocument:
		return &waE2E.DocumentMessage{
			URL: m.URL, DirectPath: m.DirectPath, Mimetype: m.MimeType,
			MediaKey: mediaKey, FileSHA256: fileSHA256, FileEncSHA256: fileEncSHA256,
			FileLength: m.FileLength,
		}, nil
	case store.TypeSticker:
		return &waE2E.StickerMessage{
			URL: m.URL, DirectPath: m.DirectPath, Mimetype: m.MimeType,
			MediaKey: mediaKey, FileSHA256: fileSHA256, FileEncSHA256: fileEncSHA256,
			FileLength: m.FileLength,
		}, nil
	}
	return nil, fmt.Errorf("message type %q has no media", msgType)
}

func decodeB64(s *string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(*s)
}
