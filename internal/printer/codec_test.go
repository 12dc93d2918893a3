package printer

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prologue = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"

// buildAnswer assembles a device reply the way the firmware frames it:
// the <status> element, a two byte separator, then the payload
// document. datasize counts one byte past the payload.
func buildAnswer(code int, comment, payload string) []byte {
	status := fmt.Sprintf("\n<code>%d</code>\n", code)
	if payload != "" {
		status += fmt.Sprintf("<datasize>%d</datasize>\n", len(payload)+1)
	}
	if comment != "" {
		status += fmt.Sprintf("<comment>%s</comment>\n", comment)
	}

	frame := prologue + "<status>" + status + "</status>"
	if payload != "" {
		frame += "\n\n" + payload
	}
	return []byte(frame)
}

func TestEncodeQuestions(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		prologue+"<read>\n<path>/config.xml</path>\n</read>",
		string(encodeGetConfig()))

	assert.Equal(t,
		prologue+"<read>\n<path>/status.xml</path>\n</read>",
		string(encodeStatusQuery("")))

	assert.Equal(t,
		prologue+"<read>\n<path>/status.xml</path>\n<job_token>tok42</job_token>\n</read>",
		string(encodeStatusQuery("tok42")))

	assert.Equal(t,
		prologue+"<lock>\n<op>set</op>\n<page_count>-1</page_count>\n<job_timeout>99</job_timeout>\n</lock>",
		string(encodeLockAcquire()))

	assert.Equal(t,
		prologue+"<lock>\n<op>cancel</op>\n<job_token>tok42</job_token>\n</lock>",
		string(encodeRelease("tok42")))
}

func TestEncodePrintHeader(t *testing.T) {
	t.Parallel()

	header, err := encodePrintHeader(ModeNormal, CutFull, 1234, "")
	require.NoError(t, err)
	assert.Equal(t,
		prologue+"<print>\n<mode>color</mode>\n<speed>1</speed>\n<lpi>264</lpi>\n"+
			"<width>0</width>\n<height>0</height>\n<dataformat>jpeg</dataformat>\n"+
			"<autofit>1</autofit>\n<datasize>1234</datasize>\n<cutmode>full</cutmode>\n</print>",
		string(header))

	header, err = encodePrintHeader(ModeVivid, CutHalf, 9, "tok42")
	require.NoError(t, err)
	assert.Equal(t,
		prologue+"<print>\n<mode>vivid</mode>\n<speed>0</speed>\n<lpi>317</lpi>\n"+
			"<width>0</width>\n<height>0</height>\n<dataformat>jpeg</dataformat>\n"+
			"<autofit>1</autofit>\n<datasize>9</datasize>\n<cutmode>half</cutmode>\n"+
			"<job_token>tok42</job_token>\n</print>",
		string(header))

	_, err = encodePrintHeader("glossy", CutFull, 1, "")
	assert.Error(t, err)
}

func TestParseModes(t *testing.T) {
	t.Parallel()

	mode, err := ParsePrintMode("vivid")
	require.NoError(t, err)
	assert.Equal(t, ModeVivid, mode)

	_, err = ParsePrintMode("color")
	assert.Error(t, err, "the wire name is not a user-facing mode")

	cut, err := ParseCutMode("none")
	require.NoError(t, err)
	assert.Equal(t, CutNone, cut)

	_, err = ParseCutMode("partial")
	assert.Error(t, err)
}

func TestDecodeAnswerStatusOnly(t *testing.T) {
	t.Parallel()

	a, err := decodeAnswer(buildAnswer(0, "", ""), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.code)
	assert.Equal(t, -1, a.dataSize)
	assert.Empty(t, a.comment)
	assert.Empty(t, a.payload)
}

func TestDecodeAnswerNonzeroCode(t *testing.T) {
	t.Parallel()

	// A nonzero code is data, not a decode failure; the caller decides
	// whether it is busy, fatal or ignorable.
	a, err := decodeAnswer(buildAnswer(3, "device busy", ""), configPayloadPrefix, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, a.code)
	assert.Equal(t, "device busy", a.comment)
	assert.Empty(t, a.payload)
}

func TestDecodeAnswerWithPayload(t *testing.T) {
	t.Parallel()

	payload := configPayloadPrefix + "<model_name>VC-500W</model_name>\n</config>\n"

	a, err := decodeAnswer(buildAnswer(0, "", payload), configPayloadPrefix, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, a.code)
	assert.Equal(t, payload, a.payload)
}

func TestDecodeAnswerSplitPayload(t *testing.T) {
	t.Parallel()

	payload := statusPayloadPrefix + "<print_state>IDLE</print_state>\n</status>\n"
	full := buildAnswer(0, "", payload)

	// Serve the status element plus a few payload bytes, then the
	// remainder through the completion callback in chunks.
	cut := answerElementEnd(t, full) + 7
	head := full[:cut]
	rest := full[cut:]

	calls := 0
	a, err := decodeAnswer(head, statusPayloadPrefix, func(missing int) ([]byte, error) {
		calls++
		require.Positive(t, missing)
		if len(rest) == 0 {
			return nil, nil
		}
		n := len(rest)/2 + 1
		if n > len(rest) {
			n = len(rest)
		}
		chunk := rest[:n]
		rest = rest[n:]
		return chunk, nil
	})
	require.NoError(t, err)
	assert.Equal(t, payload, a.payload)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestDecodeAnswerShortPayload(t *testing.T) {
	t.Parallel()

	payload := configPayloadPrefix + "<model_name>VC-500W</model_name>\n</config>\n"
	full := buildAnswer(0, "", payload)

	_, err := decodeAnswer(full[:answerElementEnd(t, full)+7], configPayloadPrefix, func(int) ([]byte, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeAnswerMalformed(t *testing.T) {
	t.Parallel()

	_, err := decodeAnswer([]byte("HTTP/1.1 200 OK\r\n\r\n"), "", nil)
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = decodeAnswer([]byte(prologue+"<status>\n<code>0</code>\n"), "", nil)
	assert.ErrorIs(t, err, ErrProtocol, "unterminated status element")

	wrong := statusPayloadPrefix + "<print_state>IDLE</print_state>\n</status>\n"
	_, err = decodeAnswer(buildAnswer(0, "", wrong), configPayloadPrefix, nil)
	assert.ErrorIs(t, err, ErrProtocol, "payload document of the wrong kind")
}

func TestProtocolErrTruncatesRaw(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 4096)
	for i := range raw {
		raw[i] = 'x'
	}

	err := protocolErr("oversized", raw)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Less(t, len(err.Error()), 512)
}

func TestDecodeAnswerMoreError(t *testing.T) {
	t.Parallel()

	payload := configPayloadPrefix + "<model_name>VC-500W</model_name>\n</config>\n"
	full := buildAnswer(0, "", payload)

	ioErr := errors.New("read timed out")
	_, err := decodeAnswer(full[:answerElementEnd(t, full)+7], configPayloadPrefix, func(int) ([]byte, error) {
		return nil, ioErr
	})
	assert.ErrorIs(t, err, ioErr)
}

// answerElementEnd returns the offset one past the closing </status>
// of the leading element.
func answerElementEnd(t *testing.T, frame []byte) int {
	t.Helper()
	idx := strings.Index(string(frame), statusClose)
	require.NotEqual(t, -1, idx)
	return idx + len(statusClose)
}
