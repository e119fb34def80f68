package edgetts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// speechConfig is the payload of the speech.config frame sent once per
// connection. Word boundaries on, sentence boundaries off, 24kHz/48kbit
// mono MP3 output.
//
// sentenceBoundaryEnabled and wordBoundaryEnabled are supposed to be
// booleans, but the Edge browser sends them as strings. Azure Cognitive
// Services accepts the bool form, so that is what we send.
const speechConfig = `{"context":{"synthesis":{"audio":{"metadataoptions":{` +
	`"sentenceBoundaryEnabled":false,"wordBoundaryEnabled":true},` +
	`"outputFormat":"audio-24khz-48kbitrate-mono-mp3"}}}}`

// getHeadersAndData splits a text frame into its header map and body. The
// header block ends at the first blank line; header lines split on the
// first colon only.
func getHeadersAndData(data []byte) (map[string]string, []byte, error) {
	index := bytes.Index(data, []byte("\r\n\r\n"))
	if index == -1 {
		return nil, nil, fmt.Errorf("%w: text message has no header delimiter", ErrProtocol)
	}

	headers := make(map[string]string)
	for _, line := range bytes.Split(data[:index], []byte("\r\n")) {
		key, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		headers[string(key)] = string(value)
	}
	return headers, data[index+4:], nil
}

// parseAudioFrame strips the binary frame header and returns the raw audio
// payload. The first two bytes are a big-endian length of the header block
// to skip.
func parseAudioFrame(message []byte) ([]byte, error) {
	if len(message) < 2 {
		return nil, fmt.Errorf("%w: binary message is missing the header length", ErrProtocol)
	}
	headerLength := int(binary.BigEndian.Uint16(message[:2]))
	if len(message) < headerLength+2 {
		return nil, fmt.Errorf("%w: binary message is missing the audio data", ErrProtocol)
	}
	return message[headerLength+2:], nil
}

// speechConfigFrame builds the speech.config frame for the given timestamp.
func speechConfigFrame(timestamp string) []byte {
	return []byte(
		"X-Timestamp:" + timestamp + "\r\n" +
			"Content-Type:application/json; charset=utf-8\r\n" +
			"Path:speech.config\r\n\r\n" +
			speechConfig + "\r\n")
}

// ssmlHeadersPlusData builds the ssml frame: request headers followed by the
// SSML document.
func ssmlHeadersPlusData(requestID, timestamp, ssml string) string {
	// The extra Z on X-Timestamp is intentional, it mirrors an Edge bug the
	// service expects.
	return "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + timestamp + "Z\r\n" +
		"Path:ssml\r\n\r\n" +
		ssml
}

// mkSSML wraps escaped text in the SSML envelope for the given voice and
// prosody parameters.
func mkSSML(text, voice, rate, volume, pitch string) string {
	return "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>" +
		"<voice name='" + voice + "'>" +
		"<prosody pitch='" + pitch + "' rate='" + rate + "' volume='" + volume + "'>" +
		text +
		"</prosody></voice></speak>"
}

// connectID returns a UUID without dashes.
func connectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// dateToString returns a Javascript-style date string for the X-Timestamp
// header.
func dateToString() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05") +
		" GMT+0000 (Coordinated Universal Time)"
}
