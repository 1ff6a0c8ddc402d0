package protocol

import "encoding/binary"

// Encode serializes a packet into a freshly allocated frame:
// header, metadata, then binary payload.
func Encode(p *Packet) []byte {
	out := make([]byte, HeaderSize+len(p.Meta)+len(p.Bin))

	binary.BigEndian.PutUint32(out[0:4], Magic)
	binary.BigEndian.PutUint16(out[4:6], Version)
	binary.BigEndian.PutUint16(out[6:8], uint16(p.Type))
	binary.BigEndian.PutUint32(out[8:12], p.Flags)
	binary.BigEndian.PutUint64(out[12:20], p.RequestID)
	binary.BigEndian.PutUint32(out[20:24], uint32(len(p.Meta)))
	binary.BigEndian.PutUint32(out[24:28], uint32(len(p.Bin)))

	copy(out[HeaderSize:], p.Meta)
	copy(out[HeaderSize+len(p.Meta):], p.Bin)

	return out
}

// Decode tries to extract one full packet from the front of buf.
//
// It returns (nil, nil) when not enough bytes have arrived yet, an error
// when the stream is unrecoverably malformed (the caller must close the
// connection), and a packet otherwise, consuming its bytes from buf.
func Decode(buf *Buffer) (*Packet, error) {
	if buf.Len() < HeaderSize {
		return nil, nil
	}

	hdr := buf.Bytes()

	if binary.BigEndian.Uint32(hdr[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if binary.BigEndian.Uint16(hdr[4:6]) != Version {
		return nil, ErrBadVersion
	}

	metaLen := binary.BigEndian.Uint32(hdr[20:24])
	binLen := binary.BigEndian.Uint32(hdr[24:28])

	if metaLen > MaxMetaLen {
		return nil, ErrMetaTooLarge
	}
	if binLen > MaxBinLen {
		return nil, ErrBinTooLarge
	}

	total := HeaderSize + int(metaLen) + int(binLen)
	if buf.Len() < total {
		return nil, nil
	}

	p := &Packet{
		Type:      Type(binary.BigEndian.Uint16(hdr[6:8])),
		Flags:     binary.BigEndian.Uint32(hdr[8:12]),
		RequestID: binary.BigEndian.Uint64(hdr[12:20]),
	}

	if metaLen > 0 {
		p.Meta = make([]byte, metaLen)
		copy(p.Meta, hdr[HeaderSize:HeaderSize+metaLen])
	}
	if binLen > 0 {
		p.Bin = make([]byte, binLen)
		copy(p.Bin, hdr[HeaderSize+int(metaLen):total])
	}

	buf.Consume(total)
	return p, nil
}
