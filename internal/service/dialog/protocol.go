package dialog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
)

// ProtocolVersion 上游二进制协议版本
const ProtocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	// FullClientRequest 包含请求参数的完整客户端请求
	FullClientRequest MessageType = 0b0001
	// AudioOnlyRequest 只包含音频数据的请求
	AudioOnlyRequest MessageType = 0b0010
	// FullServerResponse 服务端返回的完整响应
	FullServerResponse MessageType = 0b1001
	// ServerACK 服务端音频响应
	ServerACK MessageType = 0b1011
	// ServerErrorResponse 服务端错误消息
	ServerErrorResponse MessageType = 0b1111
)

// MessageFlags 消息特定标志位（位域，可组合）
type MessageFlags uint8

const (
	// NoFlags header后不携带sequence或事件
	NoFlags MessageFlags = 0b0000
	// FlagPositiveSeq 携带正数sequence
	FlagPositiveSeq MessageFlags = 0b0001
	// FlagNegativeSeq 携带负数sequence；客户端音频请求用它标记尾包
	FlagNegativeSeq MessageFlags = 0b0010
	// FlagWithEvent 携带4字节事件码
	FlagWithEvent MessageFlags = 0b0100
)

// EventType 帧内事件码
type EventType int32

const (
	EventNone               EventType = 0
	EventStartConnection    EventType = 1
	EventFinishConnection   EventType = 2
	EventConnectionStarted  EventType = 50
	EventConnectionFailed   EventType = 51
	EventStartSession       EventType = 100
	EventFinishSession      EventType = 102
	EventSessionStarted     EventType = 150
	EventSessionFinished    EventType = 152
	EventSessionFailed      EventType = 153
	EventTaskRequest        EventType = 200
	EventSayHello           EventType = 300
	EventTTSSentenceStart   EventType = 350
	EventTTSSentenceEnd     EventType = 351
	EventTTSResponse        EventType = 352
	EventTTSEnded           EventType = 359
	EventASRInfo            EventType = 450
	EventASRResponse        EventType = 451
	EventASREnded           EventType = 459
	EventChatTTSText        EventType = 501
	EventChatResponse       EventType = 550
	EventChatEnded          EventType = 559
	EventSessionInterrupted EventType = 450
)

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	// NoSerialization 无序列化（原始字节）
	NoSerialization SerializationMethod = 0b0000
	// JSONSerialization JSON序列化
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	// NoCompression 无压缩
	NoCompression CompressionMethod = 0b0000
	// GzipCompression Gzip压缩
	GzipCompression CompressionMethod = 0b0001
)

// Header 4字节消息头
type Header struct {
	ProtocolVersion     uint8               // 4 bits
	HeaderSize          uint8               // 4 bits，单位为4字节
	MessageType         MessageType         // 4 bits
	MessageFlags        MessageFlags        // 4 bits
	SerializationMethod SerializationMethod // 4 bits
	CompressionMethod   CompressionMethod   // 4 bits
	Reserved            uint8               // 8 bits
}

// NewHeader 创建新的消息头
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          0b0001, // 4字节头
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
		Reserved:            0x00,
	}
}

// Encode 编码消息头为4字节
func (h *Header) Encode() []byte {
	buf := make([]byte, 4)
	buf[0] = (h.ProtocolVersion << 4) | h.HeaderSize
	buf[1] = (uint8(h.MessageType) << 4) | uint8(h.MessageFlags)
	buf[2] = (uint8(h.SerializationMethod) << 4) | uint8(h.CompressionMethod)
	buf[3] = h.Reserved
	return buf
}

// Payload 帧载荷的三态表示：对象、原始字节或UTF-8文本，至多一种生效。
type Payload struct {
	Object map[string]any
	Binary []byte
	Text   string
}

// IsEmpty 载荷是否为空
func (p Payload) IsEmpty() bool {
	return p.Object == nil && len(p.Binary) == 0 && p.Text == ""
}

// ObjectPayload 构造JSON对象载荷
func ObjectPayload(obj map[string]any) Payload { return Payload{Object: obj} }

// BinaryPayload 构造原始字节载荷
func BinaryPayload(data []byte) Payload { return Payload{Binary: data} }

// Message 一条上游消息的内存表示
type Message struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ErrorCode uint32
	Payload   Payload
}

// hasSequence 服务端帧是否携带sequence（0b0010置位）
func (m *Message) hasSequence() bool {
	return m.Header.MessageFlags&FlagNegativeSeq != 0
}

// hasEvent 帧是否携带事件码
func (m *Message) hasEvent() bool {
	return m.Header.MessageFlags&FlagWithEvent != 0
}

// isServerType 服务端帧走"sequence + event + 会话ID长度"布局
func isServerType(t MessageType) bool {
	return t == FullServerResponse || t == ServerACK
}

// payloadBytes 按header的序列化与压缩设置产出载荷字节
func (m *Message) payloadBytes() ([]byte, error) {
	var raw []byte
	switch {
	case m.Payload.Object != nil:
		data, err := json.Marshal(m.Payload.Object)
		if err != nil {
			return nil, err
		}
		raw = data
	case m.Payload.Text != "":
		raw = []byte(m.Payload.Text)
	default:
		raw = m.Payload.Binary
	}

	if m.Header.CompressionMethod == GzipCompression && len(raw) > 0 {
		return compressGzip(raw)
	}
	return raw, nil
}

// EncodeMessage 编码完整消息。
//
// 客户端帧布局：header、[事件码]、[会话ID长度+内容，仅当非空]、载荷长度、载荷。
// 服务端帧布局与 DecodeMessage 对称，便于构造测试桩与保证往返一致。
func EncodeMessage(msg *Message) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.Write(msg.Header.Encode())

	server := isServerType(msg.Header.MessageType)

	if server && msg.hasSequence() {
		var seq [4]byte
		binary.BigEndian.PutUint32(seq[:], uint32(msg.Sequence))
		buf.Write(seq[:])
	}

	if msg.hasEvent() {
		var event [4]byte
		binary.BigEndian.PutUint32(event[:], uint32(msg.Event))
		buf.Write(event[:])
	}

	switch {
	case msg.Header.MessageType == ServerErrorResponse:
		var code [4]byte
		binary.BigEndian.PutUint32(code[:], msg.ErrorCode)
		buf.Write(code[:])
	case server || msg.SessionID != "":
		// 服务端帧总是写会话ID长度（可为0），客户端帧仅在给定时写
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(msg.SessionID)))
		buf.Write(size[:])
		buf.WriteString(msg.SessionID)
	}

	payload, err := msg.payloadBytes()
	if err != nil {
		return nil, err
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	buf.Write(size[:])
	buf.Write(payload)

	return buf.Bytes(), nil
}

// DecodeMessage 解码一条服务端帧。
//
// 纯函数，不做I/O；任何畸形输入都返回 (nil, false) 让读循环安全跳过，
// 不会panic也不会返回error。未知消息类型同样丢弃。
func DecodeMessage(data []byte) (*Message, bool) {
	reader := bytes.NewReader(data)

	var headerBytes [4]byte
	if _, err := io.ReadFull(reader, headerBytes[:]); err != nil {
		return nil, false
	}

	msg := &Message{Header: Header{
		ProtocolVersion:     (headerBytes[0] >> 4) & 0x0F,
		HeaderSize:          headerBytes[0] & 0x0F,
		MessageType:         MessageType((headerBytes[1] >> 4) & 0x0F),
		MessageFlags:        MessageFlags(headerBytes[1] & 0x0F),
		SerializationMethod: SerializationMethod((headerBytes[2] >> 4) & 0x0F),
		CompressionMethod:   CompressionMethod(headerBytes[2] & 0x0F),
		Reserved:            headerBytes[3],
	}}

	// 声明的header大小可以大于1，多出的部分按扩展字节跳过
	if extra := int(msg.Header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(extra)); err != nil {
			return nil, false
		}
	}

	switch msg.Header.MessageType {
	case FullServerResponse, ServerACK:
		if msg.hasSequence() {
			if err := binary.Read(reader, binary.BigEndian, &msg.Sequence); err != nil {
				return nil, false
			}
		}
		if msg.hasEvent() {
			var event int32
			if err := binary.Read(reader, binary.BigEndian, &event); err != nil {
				return nil, false
			}
			msg.Event = EventType(event)
		}
		var idSize int32
		if err := binary.Read(reader, binary.BigEndian, &idSize); err != nil {
			return nil, false
		}
		if idSize > 0 {
			if int64(idSize) > int64(reader.Len()) {
				return nil, false
			}
			id := make([]byte, idSize)
			if _, err := io.ReadFull(reader, id); err != nil {
				return nil, false
			}
			msg.SessionID = string(id)
		}

	case ServerErrorResponse:
		if err := binary.Read(reader, binary.BigEndian, &msg.ErrorCode); err != nil {
			return nil, false
		}

	default:
		return nil, false
	}

	var payloadSize uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadSize); err != nil {
		return nil, false
	}
	raw := []byte{}
	if payloadSize > 0 {
		if int64(payloadSize) > int64(reader.Len()) {
			return nil, false
		}
		raw = make([]byte, payloadSize)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, false
		}
	}

	msg.Payload = decodePayload(raw, msg.Header.SerializationMethod, msg.Header.CompressionMethod)
	return msg, true
}

// decodePayload 按序列化与压缩设置还原载荷。gzip解压失败时退回原始字节，
// JSON解析失败时退回UTF-8文本。
func decodePayload(raw []byte, serialization SerializationMethod, compression CompressionMethod) Payload {
	if len(raw) == 0 {
		return Payload{}
	}

	data := raw
	if compression == GzipCompression {
		if decompressed, err := decompressGzip(raw); err == nil {
			data = decompressed
		}
	}

	if serialization == JSONSerialization {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err == nil {
			return Payload{Object: obj}
		}
		return Payload{Text: string(data)}
	}

	return Payload{Binary: data}
}
