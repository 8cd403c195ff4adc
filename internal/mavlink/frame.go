// Package mavlink implements the subset of MAVLink v1/v2 framing and message
// codecs that the AgroLink broker exchanges with ArduPilot flight controllers.
//
// The wire format is: start byte (0xFD for v2, 0xFE for v1), payload length,
// v2 incompat/compat flags, sequence, system id, component id, message id
// (3 bytes in v2, 1 in v1), payload, and an X.25 CRC seeded with a per-message
// extra byte. All multi-byte payload fields are little-endian.
package mavlink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicV1 = 0xFE
	MagicV2 = 0xFD

	// IncompatFlagSigned marks a v2 frame carrying a 13-byte signature.
	IncompatFlagSigned = 0x01

	signatureLen  = 13
	maxPayloadLen = 255
)

var (
	// ErrBadCRC reports a frame whose checksum did not validate.
	ErrBadCRC = errors.New("mavlink: bad checksum")
	// ErrUnknownMessage reports an id absent from the CRC table.
	ErrUnknownMessage = errors.New("mavlink: unknown message id")
)

// Frame is one framed packet, either protocol version.
type Frame struct {
	Version       int // 1 or 2
	IncompatFlags byte
	CompatFlags   byte
	Seq           byte
	SysID         byte
	CompID        byte
	MsgID         uint32
	Payload       []byte
	Signature     []byte // v2 signed frames only
}

// Encode serializes the frame, computing the checksum. The payload is
// truncated per the v2 trailing-zero rule before framing.
func (f *Frame) Encode() ([]byte, error) {
	extra, ok := crcExtra[f.MsgID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, f.MsgID)
	}
	payload := f.Payload
	if f.Version == 2 {
		payload = truncatePayload(payload)
	}
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("mavlink: payload too long (%d)", len(payload))
	}

	var buf []byte
	if f.Version == 1 {
		buf = make([]byte, 0, 8+len(payload))
		buf = append(buf, MagicV1, byte(len(payload)), f.Seq, f.SysID, f.CompID, byte(f.MsgID))
		buf = append(buf, payload...)
	} else {
		buf = make([]byte, 0, 12+len(payload)+len(f.Signature))
		buf = append(buf, MagicV2, byte(len(payload)), f.IncompatFlags, f.CompatFlags,
			f.Seq, f.SysID, f.CompID,
			byte(f.MsgID), byte(f.MsgID>>8), byte(f.MsgID>>16))
		buf = append(buf, payload...)
	}

	crc := crcAccumulateBytes(buf[1:], crcInit)
	crc = crcAccumulate(extra, crc)
	buf = binary.LittleEndian.AppendUint16(buf, crc)
	if f.Version == 2 && f.IncompatFlags&IncompatFlagSigned != 0 {
		buf = append(buf, f.Signature...)
	}
	return buf, nil
}

// truncatePayload drops trailing zero bytes, keeping at least one.
func truncatePayload(p []byte) []byte {
	n := len(p)
	for n > 1 && p[n-1] == 0 {
		n--
	}
	return p[:n]
}

// Decoder scans a byte stream for valid frames. Bytes that do not form a
// valid frame (noise, bad CRC, unknown ids) are skipped; the protocol is
// lossy over radio and resynchronizes on the next start byte.
type Decoder struct {
	r *bufio.Reader

	// Counters for diagnostics; read without synchronization only by the owner.
	BadCRC   uint64
	Unknown  uint64
	Resyncs  uint64
}

// NewDecoder wraps r in a frame scanner.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 1024)}
}

// Next blocks until a valid frame with a known message id is read, or the
// underlying reader fails.
func (d *Decoder) Next() (*Frame, error) {
	for {
		f, err := d.tryFrame()
		if err == nil {
			return f, nil
		}
		if errors.Is(err, ErrBadCRC) {
			d.BadCRC++
			continue
		}
		if errors.Is(err, ErrUnknownMessage) {
			d.Unknown++
			continue
		}
		if errors.Is(err, errResync) {
			d.Resyncs++
			continue
		}
		return nil, err
	}
}

var errResync = errors.New("mavlink: resync")

func (d *Decoder) tryFrame() (*Frame, error) {
	magic, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch magic {
	case MagicV2:
		return d.readV2()
	case MagicV1:
		return d.readV1()
	default:
		return nil, errResync
	}
}

func (d *Decoder) readV1() (*Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, err
	}
	plen := int(header[0])
	body := make([]byte, plen+2)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, err
	}
	f := &Frame{
		Version: 1,
		Seq:     header[1],
		SysID:   header[2],
		CompID:  header[3],
		MsgID:   uint32(header[4]),
		Payload: body[:plen],
	}
	return d.finish(f, header, body)
}

func (d *Decoder) readV2() (*Frame, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, err
	}
	plen := int(header[0])
	incompat := header[1]
	body := make([]byte, plen+2)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, err
	}
	f := &Frame{
		Version:       2,
		IncompatFlags: incompat,
		CompatFlags:   header[2],
		Seq:           header[3],
		SysID:         header[4],
		CompID:        header[5],
		MsgID:         uint32(header[6]) | uint32(header[7])<<8 | uint32(header[8])<<16,
		Payload:       body[:plen],
	}
	if incompat&IncompatFlagSigned != 0 {
		sig := make([]byte, signatureLen)
		if _, err := io.ReadFull(d.r, sig); err != nil {
			return nil, err
		}
		f.Signature = sig
	}
	return d.finish(f, header, body)
}

func (d *Decoder) finish(f *Frame, header, body []byte) (*Frame, error) {
	extra, ok := crcExtra[f.MsgID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, f.MsgID)
	}
	crc := crcAccumulateBytes(header, crcInit)
	crc = crcAccumulateBytes(f.Payload, crc)
	crc = crcAccumulate(extra, crc)
	want := binary.LittleEndian.Uint16(body[len(body)-2:])
	if crc != want {
		return nil, ErrBadCRC
	}
	// Zero-extend a v2-truncated payload back to the message's full size.
	if full := payloadLen[f.MsgID]; len(f.Payload) < full {
		p := make([]byte, full)
		copy(p, f.Payload)
		f.Payload = p
	}
	return f, nil
}
