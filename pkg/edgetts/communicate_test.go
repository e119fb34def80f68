package edgetts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// stubEndpoint starts a websocket server that runs session once per
// connection, after draining the client's speech.config and ssml frames.
// It returns a ws:// URL that already carries a query string, matching the
// shape of the real endpoint.
func stubEndpoint(t *testing.T, session func(conn *websocket.Conn, ssml string)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil { // speech.config
			return
		}
		_, ssml, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session(conn, string(ssml))
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?stub=1"
}

func serverTextFrame(path, body string) []byte {
	return []byte("X-RequestId:stub\r\nContent-Type:application/json; charset=utf-8\r\nPath:" + path + "\r\n\r\n" + body)
}

func wordBoundaryBody(offset, duration int, text string) string {
	return fmt.Sprintf(
		`{"Metadata":[{"Type":"WordBoundary","Data":{"Offset":%d,"Duration":%d,"text":{"Text":%q,"Length":%d,"BoundaryType":"WordBoundary"}}}]}`,
		offset, duration, text, len(text))
}

func binaryAudioFrame(audio []byte) []byte {
	return append([]byte{0x00, 0x02, 0xAA, 0xBB}, audio...)
}

func newTestCommunicate(t *testing.T, text, endpoint string, opts ...Option) *Communicate {
	t.Helper()
	c, err := NewCommunicate(text, opts...)
	if err != nil {
		t.Fatalf("NewCommunicate: %v", err)
	}
	c.endpoint = endpoint
	return c
}

func collect(t *testing.T, c *Communicate) ([]AudioResult, []BoundaryResult, error) {
	t.Helper()
	var audio []AudioResult
	var boundaries []BoundaryResult
	err := c.Stream(context.Background(), func(r Result) error {
		switch r := r.(type) {
		case AudioResult:
			audio = append(audio, r)
		case BoundaryResult:
			boundaries = append(boundaries, r)
		}
		return nil
	})
	return audio, boundaries, err
}

func TestNewCommunicate_Validation(t *testing.T) {
	is := is.New(t)

	_, err := NewCommunicate("")
	is.True(errors.Is(err, ErrInvalidArgument)) // empty text

	for _, opt := range []Option{
		WithVoice("NotAVoice"),
		WithVoice(""),
		WithRate("fast"),
		WithRate("10%"),
		WithVolume("+10"),
		WithPitch("+10%"),
		WithProxy("not a url"),
	} {
		_, err := NewCommunicate("hello", opt)
		is.True(errors.Is(err, ErrInvalidArgument))
	}

	c, err := NewCommunicate("hello",
		WithVoice("zh-CN-YunxiNeural"),
		WithRate("+0%"), WithVolume("+0%"), WithPitch("+0Hz"))
	is.NoErr(err)
	is.Equal(c.voice, "Microsoft Server Speech Text to Speech Voice (zh-CN, YunxiNeural)")
}

func TestWithVoice_Expansion(t *testing.T) {
	is := is.New(t)

	cases := map[string]string{
		"cy-GB-NiaNeural":              "Microsoft Server Speech Text to Speech Voice (cy-GB, NiaNeural)",
		"fil-PH-AngeloNeural":          "Microsoft Server Speech Text to Speech Voice (fil-PH, AngeloNeural)",
		"zh-CN-liaoning-XiaobeiNeural": "Microsoft Server Speech Text to Speech Voice (zh-CN-liaoning, XiaobeiNeural)",
		"Microsoft Server Speech Text to Speech Voice (en-US, AriaNeural)": "Microsoft Server Speech Text to Speech Voice (en-US, AriaNeural)",
	}
	for in, want := range cases {
		c, err := NewCommunicate("hi", WithVoice(in))
		is.NoErr(err)
		is.Equal(c.voice, want)
	}
}

func TestStream_EndToEnd(t *testing.T) {
	is := is.New(t)

	audioBytes := []byte{0x11, 0x22, 0x33, 0x44}
	endpoint := stubEndpoint(t, func(conn *websocket.Conn, ssml string) {
		if !strings.Contains(ssml, "hello world") {
			t.Errorf("ssml frame does not carry the text: %q", ssml)
		}
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata, wordBoundaryBody(0, 5000000, "hello")))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame(audioBytes))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	c := newTestCommunicate(t, "hello world", endpoint, WithVoice("zh-CN-YunxiNeural"))
	audio, boundaries, err := collect(t, c)
	is.NoErr(err)

	is.Equal(len(audio), 1)
	is.Equal(audio[0].Data, audioBytes)
	is.Equal(boundaries, []BoundaryResult{{Offset: 0, Duration: 5000000, Text: "hello"}})
}

func TestStream_ResponseAndSessionEndIgnored(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathResponse, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata,
			`{"Metadata":[{"Type":"SessionEnd","Data":{}}]}`))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x01}))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	audio, boundaries, err := collect(t, c)
	is.NoErr(err)
	is.Equal(len(audio), 1)
	is.Equal(len(boundaries), 0)
}

func TestStream_NoAudioReceived(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	_, _, err := collect(t, c)
	is.True(errors.Is(err, ErrNoAudio))
	is.True(errors.Is(err, ErrProtocol)) // no-audio is a protocol error
}

func TestStream_UnknownPath(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame("bogus.path", "{}"))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	_, _, err := collect(t, c)
	is.True(errors.Is(err, ErrProtocol))
}

func TestStream_UnknownMetadataType(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata,
			`{"Metadata":[{"Type":"SentenceBoundary","Data":{}}]}`))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	_, _, err := collect(t, c)
	is.True(errors.Is(err, ErrProtocol))
	is.True(strings.Contains(err.Error(), "unknown metadata type"))
}

func TestStream_BinaryBeforeTurnStart(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x01}))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	_, _, err := collect(t, c)
	is.True(errors.Is(err, ErrProtocol))
}

func TestStream_PeerClose(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "server says no"))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	_, _, err := collect(t, c)
	is.True(errors.Is(err, ErrProtocol))
	is.True(strings.Contains(err.Error(), "server says no"))
}

func TestStream_MonotonicOffsetsAcrossChunks(t *testing.T) {
	is := is.New(t)

	// Enough text to force two chunks against the real message budget.
	text := strings.TrimSpace(strings.Repeat("word ", 16000))

	var conns int32
	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		atomic.AddInt32(&conns, 1)
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata, wordBoundaryBody(0, 5000000, "word")))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata, wordBoundaryBody(6000000, 5000000, "word")))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x01}))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	c := newTestCommunicate(t, text, endpoint)
	_, boundaries, err := collect(t, c)
	is.NoErr(err)

	is.Equal(atomic.LoadInt32(&conns), int32(2)) // one connection per chunk
	is.Equal(len(boundaries), 4) // two words per chunk

	for i := 1; i < len(boundaries); i++ {
		is.True(boundaries[i].Offset > boundaries[i-1].Offset) // offsets stay monotonic across the chunk boundary
	}

	// The second chunk is shifted by the first chunk's estimated duration:
	// last offset + duration + the fixed padding.
	is.Equal(boundaries[2].Offset, 6000000+5000000+durationPadding)
}

func TestStream_Cancellation(t *testing.T) {
	is := is.New(t)

	started := make(chan struct{})
	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		close(started)
		// Keep the turn open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	c := newTestCommunicate(t, "hello", endpoint)
	err := c.Stream(ctx, func(Result) error { return nil })
	is.True(errors.Is(err, context.Canceled))
}

func TestStream_SinkErrorStopsStream(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x01}))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	sinkErr := errors.New("sink full")
	c := newTestCommunicate(t, "hello", endpoint)
	err := c.Stream(context.Background(), func(Result) error { return sinkErr })
	is.True(errors.Is(err, sinkErr))
}

func TestWriteStreamTo(t *testing.T) {
	is := is.New(t)

	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata, wordBoundaryBody(0, 1000, "hi")))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x01, 0x02}))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x03}))
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	c := newTestCommunicate(t, "hello", endpoint)
	var buf bytes.Buffer
	err := c.WriteStreamTo(context.Background(), &buf)
	is.NoErr(err)
	is.Equal(buf.Bytes(), []byte{0x01, 0x02, 0x03}) // audio only, in order
}

func TestHandleMetadata_BadPayload(t *testing.T) {
	is := is.New(t)

	c, err := NewCommunicate("hello")
	is.NoErr(err)

	state := &streamState{prevIdx: -1, shift: -1, finalUtterance: make([]int, 1)}
	err = c.handleMetadata(0, []byte("not json"), state, func(Result) error { return nil })
	is.True(errors.Is(err, ErrProtocol))

	var model metadataModel
	is.True(json.Unmarshal([]byte(wordBoundaryBody(1, 2, "x")), &model) == nil)
	is.Equal(model.Metadata[0].Data.Text.Text, "x")
}

func TestStream_Sequential(t *testing.T) {
	// Chunk connections must be strictly sequential: a second dial may only
	// happen after the first turn has ended.
	is := is.New(t)

	text := strings.TrimSpace(strings.Repeat("word ", 16000))

	var active, maxActive int32
	endpoint := stubEndpoint(t, func(conn *websocket.Conn, _ string) {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, "{}"))
		conn.WriteMessage(websocket.BinaryMessage, binaryAudioFrame([]byte{0x01}))
		time.Sleep(10 * time.Millisecond)
		// Drop out of the active count before the client can see turn.end.
		atomic.AddInt32(&active, -1)
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, ""))
	})

	c := newTestCommunicate(t, text, endpoint)
	_, _, err := collect(t, c)
	is.NoErr(err)
	is.Equal(atomic.LoadInt32(&maxActive), int32(1))
}
