// Package media owns local capture devices. The coordinator only opens and
// stops streams and hands them to a Sink; frames are never inspected here.
package media

import "context"

type Kind string

const (
	KindUser    Kind = "user"    // camera + microphone
	KindDisplay Kind = "display" // screen capture
)

// Stream is an open capture handle. Stop releases the devices and is safe to
// call more than once.
type Stream interface {
	ID() string
	Kind() Kind
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Stop() error
}

type Capturer interface {
	CaptureUser(ctx context.Context) (Stream, error)
	CaptureDisplay(ctx context.Context) (Stream, error)
}

// Sink is the rendering/transport side that receives local streams.
type Sink interface {
	Attach(roomID string, s Stream)
	Detach(s Stream)
}

type NopSink struct{}

func (NopSink) Attach(string, Stream) {}
func (NopSink) Detach(Stream)         {}
