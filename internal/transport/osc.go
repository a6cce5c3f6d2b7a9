package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hypebeast/go-osc/osc"
)

// OSC sends envelopes as OSC messages over UDP: one message per section
// carrying the section index followed by the payload, all int32.
type OSC struct {
	client  *osc.Client
	address string
	retries int
	backoff time.Duration
}

// NewOSC resolves the display address and returns a sender for it.
func NewOSC(host string, port int, address string, retries int) (*OSC, error) {
	if _, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port))); err != nil {
		return nil, fmt.Errorf("resolve display %s:%d: %w", host, port, err)
	}
	if retries < 0 {
		retries = 0
	}
	return &OSC{
		client:  osc.NewClient(host, port),
		address: address,
		retries: retries,
		backoff: 20 * time.Millisecond,
	}, nil
}

// SendSection sends one section's envelope.
func (o *OSC) SendSection(ctx context.Context, index int, payload []int32) error {
	msg := osc.NewMessage(o.address, int32(index))
	for _, v := range payload {
		msg.Append(v)
	}
	return o.send(ctx, msg)
}

// Clear tells the display to discard all sections.
func (o *OSC) Clear(ctx context.Context) error {
	return o.send(ctx, osc.NewMessage(o.address, int32(ClearIndex)))
}

func (o *OSC) send(ctx context.Context, msg *osc.Message) error {
	var err error
	for attempt := 0; attempt <= o.retries; attempt++ {
		if attempt > 0 {
			log.Printf("OSC send %s failed (%v), retry %d/%d", o.address, err, attempt, o.retries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.backoff):
			}
		}
		if err = o.client.Send(msg); err == nil {
			return nil
		}
	}
	return fmt.Errorf("osc send %s: %w", o.address, err)
}
