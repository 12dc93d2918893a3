package printer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The device speaks a line-oriented XML dialect over TCP. Every
// question starts with an XML declaration; every answer opens with a
// <status> element carrying code/datasize/comment, optionally followed
// by a payload document of exactly datasize bytes. The byte layout is
// a device contract and must not be reformatted.
const (
	xmlPrologue  = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"
	answerPrefix = xmlPrologue + "<status>"
	statusClose  = "</status>"

	configPayloadPrefix = xmlPrologue + "<config>\n"
	statusPayloadPrefix = xmlPrologue + "<status>\n"
)

type PrintMode string

const (
	ModeVivid  PrintMode = "vivid"
	ModeNormal PrintMode = "normal"
)

type CutMode string

const (
	CutNone CutMode = "none"
	CutHalf CutMode = "half"
	CutFull CutMode = "full"
)

type modeParams struct {
	name  string
	speed int
	lpi   int
}

// The normal mode is called "color" on the wire.
var printModes = map[PrintMode]modeParams{
	ModeVivid:  {name: "vivid", speed: 0, lpi: 317},
	ModeNormal: {name: "color", speed: 1, lpi: 264},
}

func ParsePrintMode(s string) (PrintMode, error) {
	switch PrintMode(s) {
	case ModeVivid, ModeNormal:
		return PrintMode(s), nil
	}
	return "", fmt.Errorf("invalid print mode: %q (valid: vivid, normal)", s)
}

func ParseCutMode(s string) (CutMode, error) {
	switch CutMode(s) {
	case CutNone, CutHalf, CutFull:
		return CutMode(s), nil
	}
	return "", fmt.Errorf("invalid cut mode: %q (valid: none, half, full)", s)
}

func encodeGetConfig() []byte {
	return []byte(xmlPrologue + "<read>\n<path>/config.xml</path>\n</read>")
}

func encodeStatusQuery(jobToken string) []byte {
	if jobToken == "" {
		return []byte(xmlPrologue + "<read>\n<path>/status.xml</path>\n</read>")
	}
	return []byte(xmlPrologue + fmt.Sprintf(
		"<read>\n<path>/status.xml</path>\n<job_token>%s</job_token>\n</read>", jobToken))
}

func encodeLockAcquire() []byte {
	return []byte(xmlPrologue +
		"<lock>\n<op>set</op>\n<page_count>-1</page_count>\n<job_timeout>99</job_timeout>\n</lock>")
}

func encodeRelease(jobToken string) []byte {
	return []byte(xmlPrologue + fmt.Sprintf(
		"<lock>\n<op>cancel</op>\n<job_token>%s</job_token>\n</lock>", jobToken))
}

func encodePrintHeader(mode PrintMode, cut CutMode, dataSize int, jobToken string) ([]byte, error) {
	params, ok := printModes[mode]
	if !ok {
		return nil, fmt.Errorf("invalid print mode: %q", mode)
	}

	jobLine := ""
	if jobToken != "" {
		jobLine = fmt.Sprintf("<job_token>%s</job_token>\n", jobToken)
	}

	header := fmt.Sprintf(
		"<print>\n<mode>%s</mode>\n<speed>%d</speed>\n<lpi>%d</lpi>\n"+
			"<width>0</width>\n<height>0</height>\n<dataformat>jpeg</dataformat>\n"+
			"<autofit>1</autofit>\n<datasize>%d</datasize>\n<cutmode>%s</cutmode>\n%s</print>",
		params.name, params.speed, params.lpi, dataSize, cut, jobLine)

	return []byte(xmlPrologue + header), nil
}

// answer is one decoded device reply. element is the leading <status>
// document; payload is present only when the caller expected one.
type answer struct {
	code     int
	dataSize int
	comment  string
	element  string
	payload  string
}

// decodeAnswer parses a device reply. wantPayload names the prefix the
// payload document must start with; empty means the reply is the
// <status> element alone. more is called to fetch the remainder of a
// payload split across reads.
func decodeAnswer(frame []byte, wantPayload string, more func(missing int) ([]byte, error)) (*answer, error) {
	data := string(frame)

	if len(data) < len(answerPrefix) || data[:len(answerPrefix)] != answerPrefix {
		return nil, protocolErr("expected an XML status response", frame)
	}

	statusEnd := strings.Index(data[len(answerPrefix):], statusClose)
	if statusEnd == -1 {
		return nil, protocolErr("unterminated XML status element", frame)
	}
	statusEnd += len(answerPrefix)

	element := data[:statusEnd+len(statusClose)]

	a := &answer{
		code:     xmlIntDefault("code", element, -1),
		dataSize: xmlIntDefault("datasize", element, -1),
		comment:  xmlStringDefault("comment", element, ""),
		element:  element,
	}

	if wantPayload == "" || a.code != 0 {
		return a, nil
	}

	if a.dataSize < 0 {
		return nil, protocolErr("invalid XML datasize", frame)
	}

	// The payload document starts two bytes past </status> and runs
	// for datasize-1 bytes; short frames are completed by further
	// bounded reads.
	for len(data) < statusEnd+a.dataSize+10 {
		missing := statusEnd + a.dataSize - len(data) + 11
		chunk, err := more(missing)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, protocolErr("short payload", []byte(data))
		}
		data += string(chunk)
	}

	payload := data[statusEnd+11 : statusEnd+a.dataSize+10]
	if !strings.HasPrefix(payload, wantPayload) {
		return nil, protocolErr("unexpected payload document", []byte(payload))
	}

	a.payload = payload
	return a, nil
}

func xmlRegexp(name, group string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?is)<%s>(%s)</%s>`, name, group, name))
}

func xmlString(name, data string) (string, bool) {
	m := xmlRegexp(name, `.+?`).FindStringSubmatch(data)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func xmlStringDefault(name, data, fallback string) string {
	if v, ok := xmlString(name, data); ok {
		return v
	}
	return fallback
}

func xmlInt(name, data string) (int, bool) {
	m := xmlRegexp(name, `\d+`).FindStringSubmatch(data)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

func xmlIntDefault(name, data string, fallback int) int {
	if v, ok := xmlInt(name, data); ok {
		return v
	}
	return fallback
}

func xmlFloat(name, data string) (float64, bool) {
	m := xmlRegexp(name, `[0-9.]+`).FindStringSubmatch(data)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
