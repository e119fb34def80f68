package edgetts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	shortVoicePattern     = regexp.MustCompile(`^([a-z]{2,})-([A-Z]{2,})-(.+Neural)$`)
	canonicalVoicePattern = regexp.MustCompile(`^Microsoft Server Speech Text to Speech Voice \(.+,.+\)$`)
	ratePattern           = regexp.MustCompile(`^[+-]\d+%$`)
	volumePattern         = regexp.MustCompile(`^[+-]\d+%$`)
	pitchPattern          = regexp.MustCompile(`^[+-]\d+Hz$`)
)

// Result is one item produced by a synthesis stream: either an AudioResult
// or a BoundaryResult. Results are delivered to the caller's sink in the
// exact order the service produced them.
type Result interface {
	resultVariant()
}

// AudioResult carries a slice of the encoded audio stream.
type AudioResult struct {
	Data []byte
}

// BoundaryResult reports the timing of one spoken word. Offset and Duration
// are in 100-nanosecond ticks; Offset is relative to the start of the whole
// utterance, not the current chunk.
type BoundaryResult struct {
	Offset   int
	Duration int
	Text     string
}

func (AudioResult) resultVariant()    {}
func (BoundaryResult) resultVariant() {}

// Communicate drives one synthesis request against the service. It is
// validated at construction and immutable afterwards, so a single value can
// be streamed more than once.
type Communicate struct {
	text   string
	voice  string
	rate   string
	volume string
	pitch  string
	proxy  *url.URL

	// endpoint is only changed by tests.
	endpoint string
}

// Option configures a Communicate at construction time.
type Option func(*Communicate) error

// WithVoice sets the voice. Both the short form ("en-US-AriaNeural") and the
// canonical form ("Microsoft Server Speech Text to Speech Voice (en-US,
// AriaNeural)") are accepted; the short form is expanded, since the
// canonical form is what Microsoft Edge sends.
func WithVoice(voice string) Option {
	return func(c *Communicate) error {
		if voice == "" {
			return fmt.Errorf("%w: voice cannot be empty", ErrInvalidArgument)
		}
		if m := shortVoicePattern.FindStringSubmatch(voice); m != nil {
			lang, region, name := m[1], m[2], m[3]
			// Some voices carry a region variant in the name part, like
			// zh-CN-liaoning-XiaobeiNeural.
			if variant, rest, found := strings.Cut(name, "-"); found {
				region = region + "-" + variant
				name = rest
			}
			voice = fmt.Sprintf("Microsoft Server Speech Text to Speech Voice (%s-%s, %s)", lang, region, name)
		}
		if !canonicalVoicePattern.MatchString(voice) {
			return fmt.Errorf("%w: invalid voice %q", ErrInvalidArgument, voice)
		}
		c.voice = voice
		return nil
	}
}

// WithRate sets the speaking rate, e.g. "-10%".
func WithRate(rate string) Option {
	return func(c *Communicate) error {
		if !ratePattern.MatchString(rate) {
			return fmt.Errorf("%w: invalid rate %q", ErrInvalidArgument, rate)
		}
		c.rate = rate
		return nil
	}
}

// WithVolume sets the speaking volume, e.g. "+20%".
func WithVolume(volume string) Option {
	return func(c *Communicate) error {
		if !volumePattern.MatchString(volume) {
			return fmt.Errorf("%w: invalid volume %q", ErrInvalidArgument, volume)
		}
		c.volume = volume
		return nil
	}
}

// WithPitch sets the voice pitch, e.g. "-50Hz".
func WithPitch(pitch string) Option {
	return func(c *Communicate) error {
		if !pitchPattern.MatchString(pitch) {
			return fmt.Errorf("%w: invalid pitch %q", ErrInvalidArgument, pitch)
		}
		c.pitch = pitch
		return nil
	}
}

// WithProxy routes both the websocket dial and the HTTP handshake through
// the given HTTP proxy URL.
func WithProxy(proxy string) Option {
	return func(c *Communicate) error {
		u, err := url.Parse(proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid proxy %q", ErrInvalidArgument, proxy)
		}
		c.proxy = u
		return nil
	}
}

// NewCommunicate validates the request parameters and returns a ready
// Communicate. No network activity happens until Stream is called.
func NewCommunicate(text string, opts ...Option) (*Communicate, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidArgument)
	}
	c := &Communicate{
		text:     text,
		voice:    DefaultVoice,
		rate:     DefaultRate,
		volume:   DefaultVolume,
		pitch:    DefaultPitch,
		endpoint: wssEndpoint,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// streamState tracks the cross-chunk offset accounting for one Stream call.
// finalUtterance[i] is the estimated total duration of chunk i, written only
// while chunk i is active; shift is the sum of the durations of all chunks
// before the current one.
type streamState struct {
	prevIdx        int
	shift          int
	finalUtterance []int
}

// Stream synthesizes the text and delivers results to sink in order. Chunks
// are processed strictly sequentially, each over its own connection, because
// the offset shift for a chunk depends on the completed durations of all
// chunks before it. If sink returns an error the stream stops and the error
// is returned. Results delivered before a failure remain valid.
func (c *Communicate) Stream(ctx context.Context, sink func(Result) error) error {
	texts, err := splitTextByByteLength(
		escape(removeIncompatibleCharacters(c.text)),
		calcMaxMessageSize(c.voice, c.rate, c.volume, c.pitch),
	)
	if err != nil {
		return err
	}

	state := &streamState{
		prevIdx:        -1,
		shift:          -1,
		finalUtterance: make([]int, len(texts)),
	}

	for idx, text := range texts {
		if err := c.streamChunk(ctx, idx, len(texts), text, state, sink); err != nil {
			return err
		}
	}
	return nil
}

// WriteStreamTo streams the synthesized audio to w, discarding word
// boundaries.
func (c *Communicate) WriteStreamTo(ctx context.Context, w io.Writer) error {
	return c.Stream(ctx, func(r Result) error {
		if audio, ok := r.(AudioResult); ok {
			if _, err := w.Write(audio.Data); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
		}
		return nil
	})
}

func (c *Communicate) dialHeaders() http.Header {
	header := make(http.Header)
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	header.Set("Accept-Encoding", "gzip, deflate, br")
	header.Set("Accept-Language", "en-US,en;q=0.9")
	header.Set("User-Agent", userAgent)
	return header
}

// streamChunk opens one connection, submits one chunk and consumes frames
// until the turn ends. The connection never outlives the chunk.
func (c *Communicate) streamChunk(ctx context.Context, idx, total int, text string, state *streamState, sink func(Result) error) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if c.proxy != nil {
		dialer.Proxy = http.ProxyURL(c.proxy)
	}

	logrus.Debugf("edgetts: connecting for chunk %d/%d", idx+1, total)
	conn, _, err := dialer.DialContext(ctx, c.endpoint+"&ConnectionId="+connectID(), c.dialHeaders())
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("synthesis canceled: %w", ctx.Err())
		}
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	defer conn.Close()

	// Close the connection when the context is canceled so the blocked read
	// below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	date := dateToString()
	if err := conn.WriteMessage(websocket.TextMessage, speechConfigFrame(date)); err != nil {
		return fmt.Errorf("send speech.config: %w", err)
	}
	ssml := ssmlHeadersPlusData(connectID(), date, mkSSML(text, c.voice, c.rate, c.volume, c.pitch))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssml)); err != nil {
		return fmt.Errorf("send ssml: %w", err)
	}

	// downloadAudio tells whether binary frames are expected right now, so
	// stray binary data outside a turn is not mistaken for audio.
	downloadAudio := false
	audioWasReceived := false

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("synthesis canceled: %w", ctx.Err())
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("%w: connection closed by the service: %d %s",
					ErrProtocol, closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			headers, data, err := getHeadersAndData(message)
			if err != nil {
				return err
			}
			switch headers["Path"] {
			case pathTurnStart:
				downloadAudio = true
			case pathTurnEnd:
				if !audioWasReceived {
					return ErrNoAudio
				}
				logrus.Debugf("edgetts: chunk %d/%d done", idx+1, total)
				return nil
			case pathAudioMetadata:
				if err := c.handleMetadata(idx, data, state, sink); err != nil {
					return err
				}
			case pathResponse:
				// Acknowledgement only.
			default:
				return fmt.Errorf("%w: the response from the service is not recognized: %s",
					ErrProtocol, message)
			}

		case websocket.BinaryMessage:
			if !downloadAudio {
				return fmt.Errorf("%w: received a binary message, but we are not expecting one", ErrProtocol)
			}
			payload, err := parseAudioFrame(message)
			if err != nil {
				return err
			}
			if err := sink(AudioResult{Data: payload}); err != nil {
				return err
			}
			audioWasReceived = true
		}
	}
}

type metadataModel struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int `json:"Offset"`
			Duration int `json:"Duration"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

// handleMetadata parses one audio.metadata body and emits a BoundaryResult
// per word, with offsets shifted so they stay monotonic across chunks.
func (c *Communicate) handleMetadata(idx int, data []byte, state *streamState, sink func(Result) error) error {
	var model metadataModel
	if err := json.Unmarshal(data, &model); err != nil {
		return fmt.Errorf("%w: bad audio.metadata payload: %v", ErrProtocol, err)
	}

	for _, meta := range model.Metadata {
		if idx != state.prevIdx {
			shift := 0
			for i := 0; i < idx; i++ {
				shift += state.finalUtterance[i]
			}
			state.shift = shift
			state.prevIdx = idx
		}
		switch meta.Type {
		case "WordBoundary":
			// The service never reports the trailing padding it encodes
			// after each utterance, so the running estimate adds it back.
			state.finalUtterance[idx] = meta.Data.Offset + meta.Data.Duration + durationPadding
			err := sink(BoundaryResult{
				Offset:   meta.Data.Offset + state.shift,
				Duration: meta.Data.Duration,
				Text:     meta.Data.Text.Text,
			})
			if err != nil {
				return err
			}
		case "SessionEnd":
			// Nothing to do.
		default:
			return fmt.Errorf("%w: unknown metadata type: %s", ErrProtocol, meta.Type)
		}
	}
	return nil
}
