// Package sync transfers a whole card store and word-frequency table over an
// established peer connection. Each document is sent as size-bounded chunks
// under its own transfer name and rebuilt on the far side.
package sync

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/conorfennell/flashsync/internal/chunk"
)

// MessageType is the "type" field of a wire message.
type MessageType string

const (
	TypePing          MessageType = "ping"
	TypeSyncChunk     MessageType = "sync-chunk"
	TypeWordFreqChunk MessageType = "wordFreq-chunk"
)

// Transfer names, one per document.
const (
	TransferSync     = "sync"
	TransferWordFreq = "wordFreq"
)

var ErrMalformedMessage = errors.New("malformed message")

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

var envelopeSchema = stdsync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema://envelope.json", doc); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	return c.Compile("schema://envelope.json")
})

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is a decoded wire message. Chunk is zero for pings.
type Message struct {
	Type  MessageType
	Chunk chunk.Chunk
}

// Transfer returns the transfer a chunk message belongs to.
func (m Message) Transfer() string {
	switch m.Type {
	case TypeSyncChunk:
		return TransferSync
	case TypeWordFreqChunk:
		return TransferWordFreq
	}
	return ""
}

// EncodeChunk renders c as a chunk message of type t.
func EncodeChunk(t MessageType, c chunk.Chunk) (string, error) {
	data, err := json.Marshal([]any{c.Index, c.Payload, c.Total})
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(envelope{Type: t, Data: data})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodePing renders a keepalive message.
func EncodePing() string {
	return `{"type":"ping"}`
}

// DecodeMessage validates raw against the envelope schema and decodes it.
func DecodeMessage(raw string) (Message, error) {
	schema, err := envelopeSchema()
	if err != nil {
		return Message{}, err
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg := Message{Type: env.Type}
	if env.Type == TypePing {
		return msg, nil
	}

	var parts [3]json.RawMessage
	if err := json.Unmarshal(env.Data, &parts); err != nil {
		return Message{}, fmt.Errorf("%w: data: %v", ErrMalformedMessage, err)
	}
	if err := json.Unmarshal(parts[0], &msg.Chunk.Index); err != nil {
		return Message{}, fmt.Errorf("%w: index: %v", ErrMalformedMessage, err)
	}
	if err := json.Unmarshal(parts[1], &msg.Chunk.Payload); err != nil {
		return Message{}, fmt.Errorf("%w: payload: %v", ErrMalformedMessage, err)
	}
	if err := json.Unmarshal(parts[2], &msg.Chunk.Total); err != nil {
		return Message{}, fmt.Errorf("%w: total: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}
