package port

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-mux/internal/model"
)

const testPath = "/dev/ttyUSB0"

func tagged(path string, rows ...string) string {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString("\x04" + path + "\x04: " + r + "\n")
	}
	return b.String()
}

func TestFramerBuffersPartialLines(t *testing.T) {
	f := NewFramer(testPath, nil)

	assert.Equal(t, tagged(testPath, "hello"), string(f.Feed([]byte("hello\nwor"))))
	assert.Empty(t, f.Feed([]byte("ld")))
	assert.Equal(t, tagged(testPath, "world"), string(f.Feed([]byte("\n"))))
}

func TestFramerConcatenatesLinesOfOneChunk(t *testing.T) {
	f := NewFramer(testPath, nil)

	out := f.Feed([]byte("one\r\ntwo\n\nthree\rfour\n"))
	assert.Equal(t, tagged(testPath, "one", "two", "three", "four"), string(out))
}

func TestFramerStripsMarkerByte(t *testing.T) {
	f := NewFramer(testPath, nil)

	out := f.Feed([]byte("a\x04b\n\x04\n"))
	assert.Equal(t, tagged(testPath, "ab"), string(out))
}

func TestFramerDropsUndecodableLines(t *testing.T) {
	f := NewFramer(testPath, nil)

	out := f.Feed([]byte("\xff\xfe\nok\n"))
	assert.Equal(t, tagged(testPath, "ok"), string(out))
}

func TestFramerCustomDelimiter(t *testing.T) {
	f := NewFramer(testPath, &model.ReaderOptions{Delimiter: ";", IncludeDelimiter: true})

	out := f.Feed([]byte("a;b;c"))
	assert.Equal(t, tagged(testPath, "a;", "b;"), string(out))
}

func TestFramerResetDropsPartialLine(t *testing.T) {
	f := NewFramer(testPath, nil)

	assert.Empty(t, f.Feed([]byte("stale")))
	f.Reset()
	assert.Equal(t, tagged(testPath, "fresh"), string(f.Feed([]byte("fresh\n"))))
}

func TestFramerHexEncoding(t *testing.T) {
	f := NewFramer(testPath, &model.ReaderOptions{Encoding: model.EncodingHex})

	out := f.Feed([]byte("AB\n"))
	assert.Equal(t, tagged(testPath, "4142"), string(out))
}

func TestFramerFlushesOversizedLine(t *testing.T) {
	f := NewFramer(testPath, nil)
	line := strings.Repeat("x", maxBufferedLine+1)

	out := f.Feed([]byte(line))
	assert.Equal(t, tagged(testPath, line), string(out))
	assert.Empty(t, f.Feed([]byte("\n")))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		encoding model.Encoding
		kind     model.PayloadKind
		text     string
	}{
		{name: "utf8", raw: []byte("héllo"), encoding: model.EncodingUTF8, kind: model.PayloadText, text: "héllo"},
		{name: "invalid utf8", raw: []byte{0xc3, 0x28}, encoding: model.EncodingUTF8, kind: model.PayloadBinary},
		{name: "ascii", raw: []byte("abc"), encoding: model.EncodingASCII, kind: model.PayloadText, text: "abc"},
		{name: "ascii high byte", raw: []byte{'a', 0x80}, encoding: model.EncodingASCII, kind: model.PayloadBinary},
		{name: "utf16le", raw: []byte{'h', 0, 'i', 0}, encoding: model.EncodingUTF16LE, kind: model.PayloadText, text: "hi"},
		{name: "utf16le odd length", raw: []byte{'h', 0, 'i'}, encoding: model.EncodingUCS2, kind: model.PayloadBinary},
		{name: "latin1", raw: []byte{'c', 'a', 'f', 0xe9}, encoding: model.EncodingLatin1, kind: model.PayloadText, text: "café"},
		{name: "base64", raw: []byte("hi"), encoding: model.EncodingBase64, kind: model.PayloadText, text: "aGk="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Decode(tt.raw, tt.encoding)
			require.Equal(t, tt.kind, p.Kind)
			if tt.kind == model.PayloadText {
				assert.Equal(t, tt.text, p.Text)
			} else {
				assert.Equal(t, tt.raw, p.Raw)
			}
		})
	}
}

func TestSplitChunks(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c\n\r"}, SplitChunks([]byte("ab\r\nc"), 1, "\n\r"))
	assert.Equal(t, []string{"ab", "c\n\r"}, SplitChunks([]byte("abc"), 2, "\n\r"))
	assert.Equal(t, []string{"h", "é\n"}, SplitChunks([]byte("hé"), 1, "\n"))
	assert.Equal(t, []string{"abc"}, SplitChunks([]byte("abc"), 8, ""))
	assert.Nil(t, SplitChunks([]byte("\r\n"), 1, "\n\r"))
	assert.Nil(t, SplitChunks(nil, 1, "\n\r"))
}
