package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/atomic"
)

// DeviceConfig: параметры захвата. Драйверы регистрируются blank-импортом в main.
type DeviceConfig struct {
	Width     int
	Height    int
	FrameRate float64
	Audio     bool
}

type DeviceCapturer struct {
	cfg DeviceConfig
}

func NewDeviceCapturer(cfg DeviceConfig) *DeviceCapturer {
	if cfg.Width <= 0 {
		cfg.Width = 480
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	return &DeviceCapturer{cfg: cfg}
}

func (d *DeviceCapturer) video(c *mediadevices.MediaTrackConstraints) {
	c.Width = prop.Int(d.cfg.Width)
	c.Height = prop.Int(d.cfg.Height)
	c.FrameRate = prop.Float(d.cfg.FrameRate)
}

func (d *DeviceCapturer) CaptureUser(ctx context.Context) (Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Video: d.video}
	if d.cfg.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	return capture(ctx, KindUser, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
}

func (d *DeviceCapturer) CaptureDisplay(ctx context.Context) (Stream, error) {
	return capture(ctx, KindDisplay, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{Video: d.video})
	})
}

type captureResult struct {
	ms  mediadevices.MediaStream
	err error
}

// capture не умеет отменяться внутри драйвера, поэтому ждём в горутине и,
// если ctx уже отменён, закрываем опоздавшие треки сами.
func capture(ctx context.Context, kind Kind, open func() (mediadevices.MediaStream, error)) (Stream, error) {
	res := make(chan captureResult, 1)
	go func() {
		ms, err := open()
		res <- captureResult{ms: ms, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("open %s media: %w", kind, r.err)
		}
		return newDeviceStream(kind, r.ms), nil
	case <-ctx.Done():
		go func() {
			if r := <-res; r.err == nil {
				_ = newDeviceStream(kind, r.ms).Stop()
			}
		}()
		return nil, ctx.Err()
	}
}

type deviceStream struct {
	id   string
	kind Kind
	ms   mediadevices.MediaStream

	audio *atomic.Bool
	video *atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

func newDeviceStream(kind Kind, ms mediadevices.MediaStream) *deviceStream {
	return &deviceStream{
		id:    uuid.NewString(),
		kind:  kind,
		ms:    ms,
		audio: atomic.NewBool(true),
		video: atomic.NewBool(true),
	}
}

func (s *deviceStream) ID() string { return s.id }
func (s *deviceStream) Kind() Kind { return s.kind }

// Флаги читает транспорт; сами устройства продолжают захват.
func (s *deviceStream) SetAudioEnabled(enabled bool) { s.audio.Store(enabled) }
func (s *deviceStream) SetVideoEnabled(enabled bool) { s.video.Store(enabled) }
func (s *deviceStream) AudioEnabled() bool           { return s.audio.Load() }
func (s *deviceStream) VideoEnabled() bool           { return s.video.Load() }

func (s *deviceStream) Stop() error {
	s.stopOnce.Do(func() {
		var errs []error
		for _, tr := range s.ms.GetTracks() {
			if err := tr.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}
