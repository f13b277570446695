// internal/port/framing.go
package port

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"serial-mux/internal/model"
)

// maxBufferedLine bounds the bytes kept while waiting for a delimiter
const maxBufferedLine = 1 << 20

var rowSplitter = func(r rune) bool { return r == '\n' || r == '\r' }

// Decode turns a raw device line into a payload. Bytes that are not valid
// in the requested encoding produce a binary payload.
func Decode(raw []byte, encoding model.Encoding) model.Payload {
	switch encoding {
	case model.EncodingASCII:
		for _, b := range raw {
			if b >= utf8.RuneSelf {
				return model.BinaryPayload(raw)
			}
		}
		return model.TextPayload(string(raw))

	case model.EncodingUTF16LE, model.EncodingUCS2:
		if len(raw)%2 != 0 {
			return model.BinaryPayload(raw)
		}
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
		if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
			return model.BinaryPayload(raw)
		}
		return model.TextPayload(string(decoded))

	case model.EncodingBinary, model.EncodingLatin1:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return model.BinaryPayload(raw)
		}
		return model.TextPayload(string(decoded))

	case model.EncodingHex:
		return model.TextPayload(hex.EncodeToString(raw))

	case model.EncodingBase64:
		return model.TextPayload(base64.StdEncoding.EncodeToString(raw))

	default:
		if !utf8.Valid(raw) {
			return model.BinaryPayload(raw)
		}
		return model.TextPayload(string(raw))
	}
}

// Framer splits a device byte stream into delimited lines and tags every
// line with the originating path
type Framer struct {
	path             string
	tag              string
	delimiter        []byte
	encoding         model.Encoding
	includeDelimiter bool
	buf              []byte
}

// NewFramer creates a framer for path using the reader options
func NewFramer(path string, reader *model.ReaderOptions) *Framer {
	f := &Framer{
		path:      path,
		tag:       string(model.FrameMarker) + path + string(model.FrameMarker) + ": ",
		delimiter: []byte("\n"),
		encoding:  model.EncodingUTF8,
	}
	if reader != nil {
		if reader.Delimiter != "" {
			f.delimiter = []byte(reader.Delimiter)
		}
		if reader.Encoding != "" {
			f.encoding = reader.Encoding
		}
		f.includeDelimiter = reader.IncludeDelimiter
	}
	return f
}

// Feed consumes one incoming chunk and returns the tagged lines it completed,
// concatenated. The result is empty when no complete text line was found.
func (f *Framer) Feed(chunk []byte) []byte {
	f.buf = append(f.buf, chunk...)

	var out bytes.Buffer
	for {
		idx := bytes.Index(f.buf, f.delimiter)
		if idx < 0 {
			break
		}
		end := idx
		if f.includeDelimiter {
			end = idx + len(f.delimiter)
		}
		f.emit(&out, f.buf[:end])
		f.buf = f.buf[idx+len(f.delimiter):]
	}

	if len(f.buf) > maxBufferedLine {
		f.emit(&out, f.buf)
		f.buf = nil
	}

	// Drop the consumed prefix so the backing array does not grow forever
	if len(f.buf) == 0 {
		f.buf = nil
	} else {
		f.buf = append([]byte(nil), f.buf...)
	}

	return out.Bytes()
}

// Reset drops any partially buffered line
func (f *Framer) Reset() {
	f.buf = nil
}

func (f *Framer) emit(out *bytes.Buffer, line []byte) {
	payload := Decode(line, f.encoding)
	if payload.Kind != model.PayloadText {
		return
	}
	for _, row := range strings.FieldsFunc(payload.Text, rowSplitter) {
		row = strings.ReplaceAll(row, string(model.FrameMarker), "")
		if row == "" {
			continue
		}
		out.WriteString(f.tag)
		out.WriteString(row)
		out.WriteByte('\n')
	}
}

// SplitChunks prepares a write payload: line breaks are stripped, the text is
// cut into pieces of size runes and the terminator is appended to the last piece
func SplitChunks(data []byte, size int, terminator string) []string {
	if size <= 0 {
		size = 1
	}
	input := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, string(data))

	runes := []rune(input)
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for pos := 0; pos < len(runes); pos += size {
		end := pos + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[pos:end]))
	}
	chunks[len(chunks)-1] += terminator
	return chunks
}
