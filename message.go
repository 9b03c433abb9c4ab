package thermabridge

import (
	"errors"
	"fmt"
)

// TagSize is the width of the ASCII marker that opens every message.
const TagSize = 16

// Tag identifies a command protocol message.
type Tag int

const (
	TagInvalid Tag = iota
	// TagObject carries a named value: a push request, or a successful reply.
	TagObject
	// TagErrorTrace carries failure text in place of a reply.
	TagErrorTrace
	// TagSendObject asks the peer for the value bound to a name.
	TagSendObject
	// TagExecCode runs a script and waits for it.
	TagExecCode
	// TagExecLine runs one interactive line and waits for it.
	TagExecLine
	// TagExecLineNoWait runs one interactive line without a reply.
	TagExecLineNoWait
	// TagRestart resets the interpreter.
	TagRestart
	// TagStyleSheet sets the console style sheet, without a reply.
	TagStyleSheet
	// TagRunning asks whether the interpreter is executing.
	TagRunning
	// TagExecFun calls a registered function with positional and keyword arguments.
	TagExecFun
)

var tagNames = map[Tag]string{
	TagObject:         "SH_OBJECT",
	TagErrorTrace:     "SH_ERROR_TRACE",
	TagSendObject:     "SH_SEND_OBJECT",
	TagExecCode:       "SH_EXEC_CODE",
	TagExecLine:       "SH_EXEC_LINE",
	TagExecLineNoWait: "SH_EXEC_LINE_NW",
	TagRestart:        "SH_RESTART",
	TagStyleSheet:     "SH_STYLE_SHEET",
	TagRunning:        "SH_RUNNING",
	TagExecFun:        "SH_EXEC_FUN",
}

// markers maps the full space-padded field back to its tag.
var markers = func() map[[TagSize]byte]Tag {
	m := make(map[[TagSize]byte]Tag, len(tagNames))
	for t := range tagNames {
		m[t.Marker()] = t
	}
	return m
}()

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Marker returns the 16-byte wire form of t: its name padded with spaces.
func (t Tag) Marker() [TagSize]byte {
	var m [TagSize]byte
	for i := range m {
		m[i] = ' '
	}
	copy(m[:], tagNames[t])
	return m
}

var (
	// ErrUnknownTag is returned for a message whose marker is not a known tag.
	ErrUnknownTag = errors.New("thermabridge: unknown message tag")

	// ErrMalformedMessage is returned for a message whose body does not match
	// its tag.
	ErrMalformedMessage = errors.New("thermabridge: malformed message")
)

// ParseTag identifies the tag in the first TagSize bytes of b. The whole field
// must match, so SH_EXEC_LINE and SH_EXEC_LINE_NW never shadow each other.
func ParseTag(b []byte) (Tag, error) {
	if len(b) < TagSize {
		return TagInvalid, fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(b))
	}
	t, ok := markers[[TagSize]byte(b[:TagSize])]
	if !ok {
		return TagInvalid, fmt.Errorf("%w: %q", ErrUnknownTag, b[:TagSize])
	}
	return t, nil
}

// Message is one decoded command protocol message. Which fields are meaningful
// depends on Tag:
//
//	TagObject                      Name, Value
//	TagSendObject                  Name
//	TagErrorTrace                  Text
//	TagExecCode, TagExecLine,
//	TagExecLineNoWait              Text (source code)
//	TagStyleSheet                  Text
//	TagExecFun                     Name (function), Args, Kwargs
//	TagRestart, TagRunning         nothing
type Message struct {
	Tag    Tag
	Name   string
	Value  Value
	Text   string
	Args   List
	Kwargs Mapping
}

// EncodeMessage returns the wire form of m.
func EncodeMessage(m Message) ([]byte, error) {
	return AppendMessage(nil, m)
}

// AppendMessage appends the wire form of m to dst. On error dst is returned
// unchanged.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	if _, ok := tagNames[m.Tag]; !ok {
		return dst, fmt.Errorf("%w: %v", ErrUnknownTag, m.Tag)
	}
	start := len(dst)
	marker := m.Tag.Marker()
	dst = append(dst, marker[:]...)

	switch m.Tag {
	case TagObject:
		dst = appendText(dst, m.Name)
		v := m.Value
		if v == nil {
			v = Null{}
		}
		n := len(dst)
		dst = AppendEncode(dst, v)
		if len(dst) == n {
			return dst[:start], fmt.Errorf("%w: %q holds %T", ErrUnsupportedValue, m.Name, m.Value)
		}
	case TagSendObject:
		dst = appendText(dst, m.Name)
	case TagErrorTrace, TagExecCode, TagExecLine, TagExecLineNoWait:
		dst = appendText(dst, m.Text)
	case TagStyleSheet:
		dst = append(dst, m.Text...)
	case TagExecFun:
		args := Encode(orEmptyList(m.Args))
		kwargs := Encode(orEmptyMapping(m.Kwargs))
		dst = le.AppendUint32(dst, uint32(len(m.Name)))
		dst = le.AppendUint32(dst, uint32(len(args)))
		dst = le.AppendUint32(dst, uint32(len(kwargs)))
		dst = append(dst, m.Name...)
		dst = append(dst, args...)
		dst = append(dst, kwargs...)
	}
	return dst, nil
}

func orEmptyList(l List) List {
	if l == nil {
		return List{}
	}
	return l
}

func orEmptyMapping(m Mapping) Mapping {
	if m == nil {
		return Mapping{}
	}
	return m
}

func appendText(dst []byte, s string) []byte {
	dst = le.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// DecodeMessage parses one message. Bytes past the end of the body are ignored.
func DecodeMessage(b []byte) (Message, error) {
	tag, err := ParseTag(b)
	if err != nil {
		return Message{}, err
	}
	m := Message{Tag: tag}
	body := b[TagSize:]

	switch tag {
	case TagObject:
		name, rest, ok := cutText(body)
		if !ok {
			return m, fmt.Errorf("%w: %v name", ErrMalformedMessage, tag)
		}
		v, n := Decode(rest)
		if n == 0 {
			return m, fmt.Errorf("%w: %v value for %q", ErrMalformedMessage, tag, name)
		}
		m.Name, m.Value = name, v
	case TagSendObject:
		name, _, ok := cutText(body)
		if !ok {
			return m, fmt.Errorf("%w: %v name", ErrMalformedMessage, tag)
		}
		m.Name = name
	case TagErrorTrace, TagExecCode, TagExecLine, TagExecLineNoWait:
		text, _, ok := cutText(body)
		if !ok {
			return m, fmt.Errorf("%w: %v body", ErrMalformedMessage, tag)
		}
		m.Text = text
	case TagStyleSheet:
		m.Text = string(body)
	case TagExecFun:
		return decodeExecFun(m, body)
	}
	return m, nil
}

// cutText splits a 4-byte length prefixed string off the front of b.
func cutText(b []byte) (string, []byte, bool) {
	n, ok := length(b, 0)
	if !ok || len(b)-4 < n {
		return "", nil, false
	}
	return string(b[4 : 4+n]), b[4+n:], true
}

func decodeExecFun(m Message, body []byte) (Message, error) {
	nName, ok1 := length(body, 0)
	nArgs, ok2 := length(body, 4)
	nKwargs, ok3 := length(body, 8)
	if !ok1 || !ok2 || !ok3 || int64(len(body)-12) < int64(nName)+int64(nArgs)+int64(nKwargs) {
		return m, fmt.Errorf("%w: %v lengths", ErrMalformedMessage, m.Tag)
	}
	p := body[12:]
	m.Name = string(p[:nName])
	p = p[nName:]

	m.Args = List{}
	if nArgs > 0 {
		v, n := Decode(p[:nArgs])
		args, ok := v.(List)
		if n == 0 || !ok {
			return m, fmt.Errorf("%w: %v arguments of %q", ErrMalformedMessage, m.Tag, m.Name)
		}
		m.Args = args
	}
	p = p[nArgs:]

	m.Kwargs = Mapping{}
	if nKwargs > 0 {
		v, n := Decode(p[:nKwargs])
		kwargs, ok := v.(Mapping)
		if n == 0 || !ok {
			return m, fmt.Errorf("%w: %v keyword arguments of %q", ErrMalformedMessage, m.Tag, m.Name)
		}
		m.Kwargs = kwargs
	}
	return m, nil
}

// Running reply bytes.
const (
	runningNo  byte = '0'
	runningYes byte = '1'
)
