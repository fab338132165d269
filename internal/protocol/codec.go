package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/victornm/livequiz/internal/errors"
)

const (
	// Version of the envelope. Frames with any other version are rejected.
	Version = 1
	// MaxFrameSize bounds the body of a single frame.
	MaxFrameSize = 1 << 20

	headerSize = 4
)

type envelope struct {
	V    int             `json:"v"`
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type kind struct {
	decode   func(data []byte) (Message, error)
	required []string
}

var kinds = map[Type]kind{
	TypeJoin:        {decode: decodeAs[Join], required: []string{"player_name", "room_code"}},
	TypeJoinSuccess: {decode: decodeAs[JoinSuccess], required: []string{"player_name", "total_questions"}},
	TypeJoinFailed:  {decode: decodeAs[JoinFailed], required: []string{"reason"}},
	TypeLeave:       {decode: decodeAs[Leave]},
	TypeDisconnect:  {decode: decodeAs[Disconnect], required: []string{"reason"}},
	TypeQuestion:    {decode: decodeAs[Question], required: []string{"question", "number", "total"}},
	TypeAnswer:      {decode: decodeAs[Answer], required: []string{"number", "answer"}},
	TypeTimer:       {decode: decodeAs[Timer], required: []string{"remaining"}},
	TypeTimeUp:      {decode: decodeAs[TimeUp], required: []string{"number", "correct_answer"}},
	TypeScoreUpdate: {decode: decodeAs[ScoreUpdate], required: []string{"standings"}},
	TypeResults:     {decode: decodeAs[Results], required: []string{"standings"}},
	TypeKeepAlive:   {decode: decodeAs[KeepAlive]},
}

// Marshal validates m and encodes it as one length-prefixed frame.
func Marshal(m Message) ([]byte, error) {
	if m == nil {
		return nil, protocolError("nil message")
	}
	if err := m.Validate(); err != nil {
		return nil, protocolError("invalid %s: %v", m.Type(), err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}

	body, err := json.Marshal(envelope{V: Version, Type: m.Type(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, protocolError("%s frame of %d bytes exceeds limit", m.Type(), len(body))
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerSize:], body)
	return frame, nil
}

// Encode writes m to w as a single frame.
func Encode(w io.Writer, m Message) error {
	frame, err := Marshal(m)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}

// Decode reads one frame from r. Transport errors are returned as they are (io.EOF on a clean
// end of stream); malformed frames yield a CodeProtocol error.
func Decode(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 || n > MaxFrameSize {
		return nil, protocolError("frame size %d out of range", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return Unmarshal(body)
}

// Unmarshal decodes a frame body, without the length prefix.
func Unmarshal(body []byte) (Message, error) {
	var env envelope
	if err := strictUnmarshal(body, &env); err != nil {
		return nil, protocolError("decode envelope: %v", err)
	}
	if env.V != Version {
		return nil, protocolError("unsupported version %d", env.V)
	}

	k, ok := kinds[env.Type]
	if !ok {
		return nil, protocolError("unknown message type %q", env.Type)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &fields); err != nil || fields == nil {
		return nil, protocolError("%s: data is not an object", env.Type)
	}
	for _, f := range k.required {
		raw, ok := fields[f]
		if !ok {
			return nil, protocolError("%s: missing required field %q", env.Type, f)
		}
		// json leaves the zero value in place for null.
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, protocolError("%s: required field %q is null", env.Type, f)
		}
	}

	m, err := k.decode(env.Data)
	if err != nil {
		return nil, protocolError("%s: %v", env.Type, err)
	}
	if err := m.Validate(); err != nil {
		return nil, protocolError("%s: %v", env.Type, err)
	}

	return m, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := strictUnmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}

func protocolError(format string, args ...any) error {
	return errors.New(errors.CodeProtocol, errors.WithMessagef(format, args...))
}
