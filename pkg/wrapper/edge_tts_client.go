// Package wrapper exposes a small convenience surface over pkg/edgetts for
// callers that just want an audio stream and do not care about word timing.
package wrapper

import (
	"context"
	"io"

	"github.com/voskit/edge-tts/pkg/edgetts"
)

// EdgeTTS synthesizes speech and lists available voices.
type EdgeTTS interface {
	// TextToSpeech synthesizes text with the given voice and returns the
	// MP3 stream. The returned reader delivers audio as it arrives; closing
	// it cancels the synthesis.
	TextToSpeech(ctx context.Context, text, voice string) (io.ReadCloser, error)

	// VoiceList returns the service's voice catalog.
	VoiceList(ctx context.Context) ([]edgetts.Voice, error)
}

type ttsClient struct{}

// NewEdgeTTS returns an EdgeTTS backed by the public service endpoints.
func NewEdgeTTS() EdgeTTS {
	return &ttsClient{}
}

func (t *ttsClient) TextToSpeech(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	var opts []edgetts.Option
	if voice != "" {
		opts = append(opts, edgetts.WithVoice(voice))
	}
	c, err := edgetts.NewCommunicate(text, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		pw.CloseWithError(c.WriteStreamTo(ctx, pw))
	}()
	return pr, nil
}

func (t *ttsClient) VoiceList(ctx context.Context) ([]edgetts.Voice, error) {
	return edgetts.ListVoices(ctx, "")
}
