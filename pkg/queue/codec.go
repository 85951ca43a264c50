package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Encoder writes protocol messages to a stream, one JSON object per line.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one message and flushes.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return err
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s data: %w", msgType, err)
		}
	}

	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msgType, err)
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("write %s message: %w", msgType, err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write message delimiter: %w", err)
	}
	return e.w.Flush()
}

// EncodeReady sends a READY message.
func (e *Encoder) EncodeReady(ready *ReadyMessage) error {
	return e.Encode(MessageTypeReady, ready)
}

// EncodeSubmit sends a SUBMIT message.
func (e *Encoder) EncodeSubmit(sub *SubmitMessage) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	return e.Encode(MessageTypeSubmit, sub)
}

// EncodeAck sends an ACK message.
func (e *Encoder) EncodeAck(ack *AckMessage) error {
	return e.Encode(MessageTypeAck, ack)
}

// EncodeResult sends a RESULT message.
func (e *Encoder) EncodeResult(res *ResultMessage) error {
	return e.Encode(MessageTypeResult, res)
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(errMsg *ErrorMessage) error {
	return e.Encode(MessageTypeError, errMsg)
}

// EncodeExit sends an EXIT message.
func (e *Encoder) EncodeExit(exit *ExitMessage) error {
	return e.Encode(MessageTypeExit, exit)
}

// Decoder reads protocol messages from a stream.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a decoder over r. The line buffer accommodates large
// embedding potentials.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 16 * 1024 * 1024
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)
	return &Decoder{r: scanner}
}

// Decode reads the next message. io.EOF marks a cleanly closed stream.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
		return nil, io.EOF
	}

	line := d.r.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty protocol line")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeSubmit reads and validates the next message as a SUBMIT.
func (d *Decoder) DecodeSubmit() (*SubmitMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type == MessageTypeExit {
		return nil, io.EOF
	}
	if msg.Type != MessageTypeSubmit {
		return nil, fmt.Errorf("expected SUBMIT message, got %s", msg.Type)
	}
	var sub SubmitMessage
	if err := json.Unmarshal(msg.Data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal submission: %w", err)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ParseData parses a message payload into target.
func ParseData(data json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse message data: %w", err)
	}
	return nil
}
