package daemon

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/edubauerdev/wasync/internal/bus"
)

// QRRenderer draws pairing codes on stderr so the user can link the daemon
// from the phone without any client attached.
type QRRenderer struct {
	bus     *bus.Bus
	logger  *zap.Logger
	enabled bool

	quit  chan struct{}
	unsub func()
}

// NewQRRenderer creates a renderer. When disabled it still logs that a
// pairing code is pending, it just skips the terminal drawing.
func NewQRRenderer(b *bus.Bus, enabled bool, logger *zap.Logger) *QRRenderer {
	return &QRRenderer{bus: b, logger: logger, enabled: enabled}
}

// Start subscribes to pairing challenges.
func (r *QRRenderer) Start() {
	ch, unsub := r.bus.Subscribe(bus.KindSessionQR, 8)
	r.unsub = unsub
	r.quit = make(chan struct{})

	go func() {
		for {
			select {
			case <-r.quit:
				return
			case evt := <-ch:
				code, ok := evt.Payload.(string)
				if !ok {
					continue
				}
				r.render(code)
			}
		}
	}()
}

// Stop halts the renderer.
func (r *QRRenderer) Stop() {
	if r.unsub == nil {
		return
	}
	r.unsub()
	close(r.quit)
}

func (r *QRRenderer) render(code string) {
	if !r.enabled {
		r.logger.Info("pairing code issued, QR rendering disabled")
		return
	}
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		r.logger.Error("QR encode failed", zap.Error(err))
		return
	}
	fmt.Fprintln(os.Stderr, "\nScan with WhatsApp (Linked Devices):")
	fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
}
