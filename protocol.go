package main

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Client -> Server commands
const (
	CmdLogin  = "login"
	CmdStart  = "start"
	CmdSpeed  = "speed"
	CmdClick  = "click"
	CmdRemove = "remove"
	CmdChat   = "chat"
	CmdURL    = "url"
	CmdPing   = "ping"
	CmdClose  = "close"
)

// Server -> Client messages
const (
	MsgYou    = "you"    // id of a unit the receiver now owns
	MsgUnit   = "unit"   // full description of a unit
	MsgMove   = "move"   // unit stepped or warped
	MsgCall   = "call"   // x = clicking unit, y = unit on the facing tile
	MsgRemove = "remove" // unit left the world
	MsgChat   = "chat"
	MsgURL    = "url"
)

// Msg is the single message shape used in both directions. Every field except
// Cmd is optional and omitted from the wire when nil.
type Msg struct {
	Cmd string `json:"cmd" msgpack:"cmd"`

	ID *int `json:"id,omitempty" msgpack:"id,omitempty"`
	X  *int `json:"x,omitempty" msgpack:"x,omitempty"`
	Y  *int `json:"y,omitempty" msgpack:"y,omitempty"`

	Speed *int `json:"speed,omitempty" msgpack:"speed,omitempty"`

	Name      *string `json:"name,omitempty" msgpack:"name,omitempty"`
	Signature *string `json:"signature,omitempty" msgpack:"signature,omitempty"`
	Img       *string `json:"img,omitempty" msgpack:"img,omitempty"`
	Text      *string `json:"text,omitempty" msgpack:"text,omitempty"`
	Style     *string `json:"style,omitempty" msgpack:"style,omitempty"`
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// cmdField tells a missing cmd apart from an empty one, which is an unknown
// command rather than a malformed frame.
type cmdField struct {
	Cmd *string `json:"cmd" msgpack:"cmd"`
}

// Codec turns messages into websocket frames and back.
type Codec interface {
	Name() string
	FrameType() int
	Encode(Msg) ([]byte, error)
	Decode([]byte) (Msg, error)
}

// JSONCodec is the default text-frame codec.
type JSONCodec struct{}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(m Msg) ([]byte, error) { return json.Marshal(m) }

func (JSONCodec) Decode(data []byte) (Msg, error) {
	var m Msg
	if err := json.Unmarshal(data, &m); err != nil {
		return Msg{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var c cmdField
	if err := json.Unmarshal(data, &c); err != nil || c.Cmd == nil {
		return Msg{}, fmt.Errorf("%w: missing cmd", ErrProtocol)
	}
	return m, nil
}

// MsgpackCodec sends the same schema as binary frames. Clients opt in with
// ?codec=msgpack on the websocket URL.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(m Msg) ([]byte, error) { return msgpack.Marshal(&m) }

func (MsgpackCodec) Decode(data []byte) (Msg, error) {
	var m Msg
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Msg{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var c cmdField
	if err := msgpack.Unmarshal(data, &c); err != nil || c.Cmd == nil {
		return Msg{}, fmt.Errorf("%w: missing cmd", ErrProtocol)
	}
	return m, nil
}

// CodecByName resolves the ?codec= query value; unknown names fall back to JSON.
func CodecByName(name string) Codec {
	if name == "msgpack" {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// decodeFrame picks the decoder by frame type so a msgpack client may still send
// text commands.
func decodeFrame(frameType int, data []byte) (Msg, error) {
	switch frameType {
	case websocket.TextMessage:
		return JSONCodec{}.Decode(data)
	case websocket.BinaryMessage:
		return MsgpackCodec{}.Decode(data)
	}
	return Msg{}, fmt.Errorf("%w: unexpected frame type %d", ErrProtocol, frameType)
}
