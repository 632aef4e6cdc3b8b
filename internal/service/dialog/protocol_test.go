package dialog

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"
)

func TestServerACKRoundTrip(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(ServerACK, FlagNegativeSeq|FlagWithEvent, NoSerialization, NoCompression),
		Sequence:  -7,
		Event:     EventTTSResponse,
		SessionID: "sess-123",
		Payload:   BinaryPayload([]byte{0x01, 0x02, 0x03, 0x04}),
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}

	decoded, ok := DecodeMessage(data)
	if !ok {
		t.Fatalf("DecodeMessage rejected encoded frame")
	}
	if decoded.Header.MessageType != ServerACK {
		t.Fatalf("unexpected message type: %v", decoded.Header.MessageType)
	}
	if decoded.Sequence != -7 {
		t.Fatalf("expected sequence -7, got %d", decoded.Sequence)
	}
	if decoded.Event != EventTTSResponse {
		t.Fatalf("expected event %d, got %d", EventTTSResponse, decoded.Event)
	}
	if decoded.SessionID != "sess-123" {
		t.Fatalf("unexpected session id: %q", decoded.SessionID)
	}
	if !bytes.Equal(decoded.Payload.Binary, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("payload mismatch: %v", decoded.Payload.Binary)
	}
}

func TestFullServerResponseJSONGzipRoundTrip(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(FullServerResponse, FlagWithEvent, JSONSerialization, GzipCompression),
		Event:     EventChatResponse,
		SessionID: "sess-456",
		Payload:   ObjectPayload(map[string]any{"content": "你好", "tts_type": "chat_tts_text"}),
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}

	decoded, ok := DecodeMessage(data)
	if !ok {
		t.Fatalf("DecodeMessage rejected encoded frame")
	}
	if decoded.Event != EventChatResponse {
		t.Fatalf("expected event %d, got %d", EventChatResponse, decoded.Event)
	}
	if decoded.Payload.Object == nil {
		t.Fatalf("expected object payload, got %+v", decoded.Payload)
	}
	if got := decoded.Payload.Object["content"]; got != "你好" {
		t.Fatalf("unexpected content: %v", got)
	}
}

func TestServerErrorResponseRoundTrip(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(ServerErrorResponse, NoFlags, JSONSerialization, NoCompression),
		ErrorCode: 55000001,
		Payload:   ObjectPayload(map[string]any{"error": "session number limit exceeded"}),
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}

	decoded, ok := DecodeMessage(data)
	if !ok {
		t.Fatalf("DecodeMessage rejected encoded frame")
	}
	if decoded.ErrorCode != 55000001 {
		t.Fatalf("expected error code 55000001, got %d", decoded.ErrorCode)
	}
	if got := decoded.Payload.Object["error"]; got != "session number limit exceeded" {
		t.Fatalf("unexpected error payload: %v", got)
	}
}

func TestDecodeExtendedHeader(t *testing.T) {
	// 声明 header 大小为 8 字节，紧随其后的 4 字节应被跳过
	buf := bytes.NewBuffer(nil)
	buf.Write([]byte{
		(ProtocolVersion << 4) | 0b0010,
		(uint8(FullServerResponse) << 4) | uint8(FlagWithEvent),
		(uint8(NoSerialization) << 4) | uint8(NoCompression),
		0x00,
	})
	buf.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	var event [4]byte
	binary.BigEndian.PutUint32(event[:], uint32(EventTTSEnded))
	buf.Write(event[:])

	var idSize [4]byte
	buf.Write(idSize[:])

	var payloadSize [4]byte
	buf.Write(payloadSize[:])

	decoded, ok := DecodeMessage(buf.Bytes())
	if !ok {
		t.Fatalf("DecodeMessage rejected extended-header frame")
	}
	if decoded.Event != EventTTSEnded {
		t.Fatalf("expected event %d, got %d", EventTTSEnded, decoded.Event)
	}
}

func TestDecodeRejectsClientTypes(t *testing.T) {
	msg := &Message{
		Header:  NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:   EventStartConnection,
		Payload: ObjectPayload(map[string]any{}),
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}

	if decoded, ok := DecodeMessage(data); ok {
		t.Fatalf("expected client frame to be dropped, got %+v", decoded)
	}
}

func TestDecodeGzipFallbackToRaw(t *testing.T) {
	// 压缩位声明为gzip但载荷并不是，应退回原始字节而不是失败
	msg := &Message{
		Header:    NewHeader(ServerACK, NoFlags, NoSerialization, NoCompression),
		SessionID: "s",
		Payload:   BinaryPayload([]byte("not-gzip")),
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}
	data[2] = (uint8(NoSerialization) << 4) | uint8(GzipCompression)

	decoded, ok := DecodeMessage(data)
	if !ok {
		t.Fatalf("DecodeMessage rejected frame")
	}
	if string(decoded.Payload.Binary) != "not-gzip" {
		t.Fatalf("expected raw fallback, got %+v", decoded.Payload)
	}
}

func TestDecodeJSONFallbackToText(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(FullServerResponse, NoFlags, NoSerialization, NoCompression),
		SessionID: "s",
		Payload:   BinaryPayload([]byte("plain text, not json")),
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}
	data[2] = (uint8(JSONSerialization) << 4) | uint8(NoCompression)

	decoded, ok := DecodeMessage(data)
	if !ok {
		t.Fatalf("DecodeMessage rejected frame")
	}
	if decoded.Payload.Text != "plain text, not json" {
		t.Fatalf("expected text fallback, got %+v", decoded.Payload)
	}
}

func TestDecodeTruncatedFrames(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(ServerACK, FlagNegativeSeq|FlagWithEvent, NoSerialization, NoCompression),
		Sequence:  3,
		Event:     EventTTSResponse,
		SessionID: "sess",
		Payload:   BinaryPayload([]byte("audio-bytes")),
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}

	for cut := 0; cut < len(data); cut++ {
		if decoded, ok := DecodeMessage(data[:cut]); ok {
			t.Fatalf("truncated frame at %d decoded unexpectedly: %+v", cut, decoded)
		}
	}
}

func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		buf := make([]byte, rng.Intn(128))
		rng.Read(buf)
		DecodeMessage(buf)
	}
}
