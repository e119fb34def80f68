package edgetts

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
)

// splitTextByByteLength splits text into segments of at most byteLength
// bytes, preferring to cut at a space and never cutting inside an
// unterminated &...; character reference. The function assumes the text will
// be placed inside an XML tag, so the input must already be escaped.
func splitTextByByteLength(text string, byteLength int) ([]string, error) {
	if byteLength < 0 {
		return nil, fmt.Errorf("%w: byteLength must not be negative", ErrInvalidArgument)
	}

	var result []string
	textBytes := []byte(text)

	for byteLength > 0 && len(textBytes) > byteLength {
		splitAt := bytes.LastIndexByte(textBytes[:byteLength], ' ')
		if splitAt == -1 || splitAt == 0 {
			splitAt = byteLength
		} else {
			splitAt++
		}

		// Make sure the cut does not land inside an unterminated &...;
		// reference. If it does, back off to just before the ampersand.
		for {
			amp := bytes.LastIndexByte(textBytes[:splitAt], '&')
			if amp == -1 {
				break
			}
			if bytes.IndexByte(textBytes[amp:splitAt], ';') != -1 {
				break
			}
			splitAt = amp - 1
			if splitAt < 0 {
				return nil, fmt.Errorf("%w: maximum byte length is too small or invalid text", ErrInvalidArgument)
			}
			if splitAt == 0 {
				break
			}
		}

		trimmed := bytes.TrimSpace(textBytes[:splitAt])
		if len(trimmed) > 0 {
			result = append(result, string(trimmed))
		}
		if splitAt == 0 {
			splitAt = 1
		}
		textBytes = textBytes[splitAt:]
	}

	trimmed := bytes.TrimSpace(textBytes)
	if len(trimmed) > 0 {
		result = append(result, string(trimmed))
	}

	return result, nil
}

// escape escapes &, < and > so the text is safe inside the SSML envelope.
// Ampersand must be replaced first.
func escape(data string) string {
	data = strings.ReplaceAll(data, "&", "&amp;")
	data = strings.ReplaceAll(data, ">", "&gt;")
	data = strings.ReplaceAll(data, "<", "&lt;")
	return data
}

// unescape reverses escape. Ampersand must be restored last.
func unescape(data string) string {
	data = strings.ReplaceAll(data, "&lt;", "<")
	data = strings.ReplaceAll(data, "&gt;", ">")
	data = strings.ReplaceAll(data, "&amp;", "&")
	return data
}

// removeIncompatibleCharacters replaces control characters the service
// rejects with spaces. The vertical tab in particular is common in OCR-ed
// PDFs and causes the service to error out.
func removeIncompatibleCharacters(str string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return ' '
		}
		return r
	}, str)
}

// calcMaxMessageSize returns the byte budget left for text in one websocket
// message after the ssml headers and the empty SSML envelope for the given
// parameters, minus a margin of error.
func calcMaxMessageSize(voice, rate, volume, pitch string) int {
	const websocketMaxSize = 1 << 16
	overheadPerMessage := len(ssmlHeadersPlusData(
		connectID(),
		dateToString(),
		mkSSML("", voice, rate, volume, pitch),
	)) + 50
	return websocketMaxSize - overheadPerMessage
}
