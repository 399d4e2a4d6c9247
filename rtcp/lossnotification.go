package rtcp

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtcp"
)

const psfbFormatAFB uint8 = 15

// lossNotificationIdentifier is the 4-byte unique identifier this module
// uses to distinguish LossNotification from other PSFB-AFB(15) payloads
// (REMB uses "REMB" the same way). There is no single standardized wire
// tag across LNTF draft revisions, so this is this module's own framing
// choice, documented here rather than left implicit.
var lossNotificationIdentifier = [4]byte{'L', 'N', 'T', 'F'}

// LossNotification reports the receiver's decodability state for the
// generalized frame-reference scheme (spec §4.10's "LossNotification" PSFB
// feedback, §4.8 frame reference finder): the last frame the decoder
// successfully decoded, the last sequence number received at all, and
// whether everything between is presently decodable.
type LossNotification struct {
	SenderSSRC uint32
	MediaSSRC  uint32

	LastDecodedSequenceNumber  uint16
	LastReceivedSequenceNumber uint16
	Decodable                  bool
}

func (p *LossNotification) Marshal() ([]byte, error) {
	buf := make([]byte, 20)
	buf[0] = 0x80 | (psfbFormatAFB & 0x1F)
	buf[1] = uint8(rtcp.TypePayloadSpecificFeedback)
	binary.BigEndian.PutUint16(buf[2:4], 4) // length in words - 1
	binary.BigEndian.PutUint32(buf[4:8], p.SenderSSRC)
	binary.BigEndian.PutUint32(buf[8:12], p.MediaSSRC)
	copy(buf[12:16], lossNotificationIdentifier[:])
	binary.BigEndian.PutUint16(buf[16:18], p.LastDecodedSequenceNumber)
	v := p.LastReceivedSequenceNumber & 0x7FFF
	if p.Decodable {
		v |= 0x8000
	}
	binary.BigEndian.PutUint16(buf[18:20], v)
	return buf, nil
}

func (p *LossNotification) Unmarshal(raw []byte) error {
	if len(raw) < 20 {
		return fmt.Errorf("rtcp: loss notification packet truncated")
	}
	if [4]byte{raw[12], raw[13], raw[14], raw[15]} != lossNotificationIdentifier {
		return fmt.Errorf("rtcp: not a loss notification AFB payload")
	}
	p.SenderSSRC = binary.BigEndian.Uint32(raw[4:8])
	p.MediaSSRC = binary.BigEndian.Uint32(raw[8:12])
	p.LastDecodedSequenceNumber = binary.BigEndian.Uint16(raw[16:18])
	v := binary.BigEndian.Uint16(raw[18:20])
	p.LastReceivedSequenceNumber = v & 0x7FFF
	p.Decodable = v&0x8000 != 0
	return nil
}

func (p *LossNotification) Header() rtcp.Header {
	return rtcp.Header{Count: psfbFormatAFB, Type: rtcp.TypePayloadSpecificFeedback, Length: 4}
}

func (p *LossNotification) DestinationSSRC() []uint32 { return []uint32{p.MediaSSRC} }
