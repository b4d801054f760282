package core

import (
	"encoding/binary"
	"fmt"
)

// message is one parsed application-layer frame: [version][class][payload]
// per spec.md §4.H.
type message struct {
	Version uint8
	Class   MessageClass
	Payload []byte
}

func encodeMessage(class MessageClass, payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	out[0] = ProtocolVersion
	out[1] = uint8(class)
	copy(out[2:], payload)
	return out
}

func decodeMessage(data []byte) (message, error) {
	if len(data) < 2 {
		return message{}, fmt.Errorf("%w: message shorter than header", ErrBinaryLength)
	}
	return message{Version: data[0], Class: MessageClass(data[1]), Payload: data[2:]}, nil
}

// --- Hello ---

func encodeHello(id PeerID) []byte {
	return encodeMessage(MessageHello, id[:])
}

func decodeHello(payload []byte) (PeerID, error) {
	if len(payload) != PeerIDSize {
		return PeerID{}, fmt.Errorf("%w: hello payload must be %d bytes", ErrBinaryLength, PeerIDSize)
	}
	var id PeerID
	copy(id[:], payload)
	return id, nil
}

// --- KeyRequest (empty) ---

func encodeKeyRequest() []byte { return encodeMessage(MessageKeyRequest, nil) }

// --- KeyResponse ---

const keyRecordSize = CubeTypeSize + ChallengeLevelSize + TimestampSize + CubeKeySize

func encodeKeyResponse(metas []CubeMeta) []byte {
	payload := make([]byte, 4+len(metas)*keyRecordSize)
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(metas)))
	off := 4
	for _, m := range metas {
		payload[off] = uint8(m.CubeType)
		payload[off+1] = uint8(m.ChallengeLevel)
		copy(payload[off+2:off+2+TimestampSize], encodeTimestamp(m.Date))
		copy(payload[off+2+TimestampSize:off+keyRecordSize], m.Key[:])
		off += keyRecordSize
	}
	return encodeMessage(MessageKeyResponse, payload)
}

func decodeKeyResponse(payload []byte) ([]CubeMeta, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: KeyResponse missing count", ErrBinaryLength)
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	want := 4 + int(count)*keyRecordSize
	if len(payload) != want {
		return nil, fmt.Errorf("%w: KeyResponse length mismatch", ErrBinaryLength)
	}
	out := make([]CubeMeta, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		ctype := CubeType(payload[off])
		challenge := int(payload[off+1])
		ts := decodeTimestamp(payload[off+2 : off+2+TimestampSize])
		var key [CubeKeySize]byte
		copy(key[:], payload[off+2+TimestampSize:off+keyRecordSize])
		out = append(out, CubeMeta{Key: key, Date: ts, ChallengeLevel: challenge, CubeType: ctype})
		off += keyRecordSize
	}
	return out, nil
}

// --- CubeRequest ---

func encodeCubeRequest(keys [][CubeKeySize]byte) []byte {
	if len(keys) > MaxCubeHashCount {
		keys = keys[:MaxCubeHashCount]
	}
	payload := make([]byte, 4+len(keys)*CubeKeySize)
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(keys)))
	off := 4
	for _, k := range keys {
		copy(payload[off:off+CubeKeySize], k[:])
		off += CubeKeySize
	}
	return encodeMessage(MessageCubeRequest, payload)
}

func decodeCubeRequest(payload []byte) ([][CubeKeySize]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: CubeRequest missing count", ErrBinaryLength)
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	want := 4 + int(count)*CubeKeySize
	if len(payload) != want {
		return nil, fmt.Errorf("%w: CubeRequest length mismatch", ErrBinaryLength)
	}
	out := make([][CubeKeySize]byte, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		var k [CubeKeySize]byte
		copy(k[:], payload[off:off+CubeKeySize])
		out = append(out, k)
		off += CubeKeySize
	}
	return out, nil
}

// --- CubeResponse ---

func encodeCubeResponse(bins [][]byte) []byte {
	payload := make([]byte, 4+len(bins)*CubeSize)
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(bins)))
	off := 4
	for _, b := range bins {
		copy(payload[off:off+CubeSize], b)
		off += CubeSize
	}
	return encodeMessage(MessageCubeResponse, payload)
}

func decodeCubeResponse(payload []byte) ([][]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: CubeResponse missing count", ErrBinaryLength)
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	want := 4 + int(count)*CubeSize
	if len(payload) != want {
		return nil, fmt.Errorf("%w: CubeResponse length mismatch", ErrBinaryLength)
	}
	out := make([][]byte, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		out = append(out, append([]byte(nil), payload[off:off+CubeSize]...))
		off += CubeSize
	}
	return out, nil
}

// --- NodeRequest (empty) ---

func encodeNodeRequest() []byte { return encodeMessage(MessageNodeRequest, nil) }

// --- NodeResponse / MyServerAddress share the {u8 type, u16 len, ASCII} encoding ---

func encodeAddressEntry(addr Address) []byte {
	s := []byte(addr.String())
	out := make([]byte, 1+2+len(s))
	out[0] = uint8(addr.Kind)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(s)))
	copy(out[3:], s)
	return out
}

func decodeAddressEntry(data []byte) (Address, int, error) {
	if len(data) < 3 {
		return Address{}, 0, fmt.Errorf("%w: address entry truncated", ErrBinaryLength)
	}
	kind := AddressKind(data[0])
	n := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) < 3+n {
		return Address{}, 0, fmt.Errorf("%w: address entry truncated", ErrBinaryLength)
	}
	s := string(data[3 : 3+n])
	var addr Address
	switch kind {
	case AddressTCP:
		addr = addressFromHostPortString(s)
	case AddressWebSocket:
		addr = WebSocketAddressValue(s)
	case AddressMultiaddr:
		addr = MultiaddrAddressValue(s)
	default:
		return Address{}, 0, fmt.Errorf("%w: unknown address kind %d", ErrAddress, kind)
	}
	return addr, 3 + n, nil
}

func encodeNodeResponse(addrs []Address) []byte {
	if len(addrs) > MaxNodeAddressCount {
		addrs = addrs[:MaxNodeAddressCount]
	}
	entries := make([][]byte, len(addrs))
	total := 4
	for i, a := range addrs {
		entries[i] = encodeAddressEntry(a)
		total += len(entries[i])
	}
	payload := make([]byte, total)
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(addrs)))
	off := 4
	for _, e := range entries {
		copy(payload[off:], e)
		off += len(e)
	}
	return encodeMessage(MessageNodeResponse, payload)
}

func decodeNodeResponse(payload []byte) ([]Address, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: NodeResponse missing count", ErrBinaryLength)
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	off := 4
	out := make([]Address, 0, count)
	for i := uint32(0); i < count; i++ {
		addr, n, err := decodeAddressEntry(payload[off:])
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
		off += n
	}
	return out, nil
}

func encodeMyServerAddress(addr Address) []byte {
	return encodeMessage(MessageMyServerAddress, encodeAddressEntry(addr))
}

func decodeMyServerAddress(payload []byte) (Address, error) {
	addr, _, err := decodeAddressEntry(payload)
	return addr, err
}

// --- SubscribeCube ---

func encodeSubscribeCube(keys [][CubeKeySize]byte) []byte {
	payload := make([]byte, 4+len(keys)*CubeKeySize)
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(keys)))
	off := 4
	for _, k := range keys {
		copy(payload[off:off+CubeKeySize], k[:])
		off += CubeKeySize
	}
	return encodeMessage(MessageSubscribeCube, payload)
}

func decodeSubscribeCube(payload []byte) ([][CubeKeySize]byte, error) {
	return decodeCubeRequest(payload) // identical wire shape
}

// --- SubscriptionConfirmation ---

func encodeSubscriptionConfirmation(code SubscriptionCode, blob, hashBlob []byte, durationMS uint32) []byte {
	payload := make([]byte, 1+len(blob)+len(hashBlob)+4)
	payload[0] = uint8(code)
	off := 1
	copy(payload[off:off+len(blob)], blob)
	off += len(blob)
	copy(payload[off:off+len(hashBlob)], hashBlob)
	off += len(hashBlob)
	binary.BigEndian.PutUint32(payload[off:off+4], durationMS)
	return encodeMessage(MessageSubscriptionConfirmation, payload)
}
