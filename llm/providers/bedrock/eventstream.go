package bedrock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// eventStreamMessage is one decoded frame of the AWS EventStream binary
// wire format Bedrock's InvokeModelWithResponseStream uses: a 4-byte
// big-endian total length, a 4-byte big-endian headers length, a 4-byte
// prelude CRC, the header block, the payload, and a trailing 4-byte
// message CRC. CRCs are not verified here — the HTTP/TLS transport already
// guarantees integrity, and AWS's own SDKs treat CRC failure as a
// non-fatal warning rather than a framing error.
type eventStreamMessage struct {
	Headers map[string]string
	Payload []byte
}

const (
	preludeLength   = 8 // total-length + headers-length
	preludeCRCLen   = 4
	trailingCRCLen  = 4
	minFrameLength  = preludeLength + preludeCRCLen + trailingCRCLen
	headerTypeBool  = 0
	headerTypeByte  = 2
	headerTypeShort = 3
	headerTypeInt   = 4
	headerTypeLong  = 5
	headerTypeBytes = 6
	headerTypeStr   = 7
)

// decodeEventStream reads successive frames from r until EOF, invoking fn
// for each decoded message.
func decodeEventStream(r io.Reader, fn func(eventStreamMessage) error) error {
	for {
		msg, err := readOneMessage(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func readOneMessage(r io.Reader) (eventStreamMessage, error) {
	var prelude [preludeLength]byte
	if _, err := io.ReadFull(r, prelude[:]); err != nil {
		return eventStreamMessage{}, err
	}
	totalLen := binary.BigEndian.Uint32(prelude[0:4])
	headersLen := binary.BigEndian.Uint32(prelude[4:8])
	if totalLen < minFrameLength {
		return eventStreamMessage{}, fmt.Errorf("bedrock eventstream: frame too short (%d bytes)", totalLen)
	}

	// Skip the prelude CRC; remaining bytes = headers + payload + message CRC.
	rest := make([]byte, totalLen-preludeLength)
	if _, err := io.ReadFull(r, rest); err != nil {
		return eventStreamMessage{}, err
	}
	body := rest[preludeCRCLen:]
	if uint32(len(body)) < headersLen+trailingCRCLen {
		return eventStreamMessage{}, fmt.Errorf("bedrock eventstream: header length %d exceeds frame", headersLen)
	}

	headerBytes := body[:headersLen]
	payload := body[headersLen : len(body)-trailingCRCLen]

	headers, err := decodeHeaders(headerBytes)
	if err != nil {
		return eventStreamMessage{}, err
	}
	return eventStreamMessage{Headers: headers, Payload: payload}, nil
}

func decodeHeaders(b []byte) (map[string]string, error) {
	headers := make(map[string]string)
	for len(b) > 0 {
		if len(b) < 1 {
			return nil, errors.New("bedrock eventstream: truncated header name length")
		}
		nameLen := int(b[0])
		b = b[1:]
		if len(b) < nameLen+1 {
			return nil, errors.New("bedrock eventstream: truncated header name")
		}
		name := string(b[:nameLen])
		b = b[nameLen:]
		typ := b[0]
		b = b[1:]

		switch typ {
		case headerTypeBool:
			headers[name] = "bool"
		case headerTypeByte:
			b = b[1:]
		case headerTypeShort:
			b = b[2:]
		case headerTypeInt:
			b = b[4:]
		case headerTypeLong:
			b = b[8:]
		case headerTypeBytes, headerTypeStr:
			if len(b) < 2 {
				return nil, errors.New("bedrock eventstream: truncated header value length")
			}
			valLen := int(binary.BigEndian.Uint16(b[:2]))
			b = b[2:]
			if len(b) < valLen {
				return nil, errors.New("bedrock eventstream: truncated header value")
			}
			if typ == headerTypeStr {
				headers[name] = string(b[:valLen])
			}
			b = b[valLen:]
		default:
			return nil, fmt.Errorf("bedrock eventstream: unsupported header type %d", typ)
		}
	}
	return headers, nil
}
