// Package transport delivers section envelopes to the waveform display.
package transport

import (
	"context"
	"log"
)

// ClearIndex is the section index that tells the display to drop every section.
const ClearIndex = -1

// Sender delivers envelopes. Calls return once the message is handed to the
// network, and callers must not overlap them.
type Sender interface {
	SendSection(ctx context.Context, index int, payload []int32) error
	Clear(ctx context.Context) error
}

// Tee sends to primary and copies every message to mirrors.
// Only primary errors are returned, mirror errors are logged.
func Tee(primary Sender, mirrors ...Sender) Sender {
	return &tee{primary: primary, mirrors: mirrors}
}

type tee struct {
	primary Sender
	mirrors []Sender
}

func (t *tee) SendSection(ctx context.Context, index int, payload []int32) error {
	err := t.primary.SendSection(ctx, index, payload)
	for _, m := range t.mirrors {
		if merr := m.SendSection(ctx, index, payload); merr != nil {
			log.Printf("Mirror send section %d: %v", index, merr)
		}
	}
	return err
}

func (t *tee) Clear(ctx context.Context) error {
	err := t.primary.Clear(ctx)
	for _, m := range t.mirrors {
		if merr := m.Clear(ctx); merr != nil {
			log.Printf("Mirror clear: %v", merr)
		}
	}
	return err
}
