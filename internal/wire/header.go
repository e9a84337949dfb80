// Package wire defines the on-wire packet framing shared by every radio
// link: the fixed-size header, the CRC seal, and the component/type
// constants packets are tagged with.
package wire

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Component identifies which subsystem produced or should consume a
// packet. It occupies the low byte of Header.Flags.
type Component uint32

const (
	ComponentRuby         Component = iota + 1 // controller/router control-plane packets (ping, pairing)
	ComponentLocalControl                      // never leaves the controller; routed to the control queue
	ComponentCommands
	ComponentTelemetry
	ComponentRC
	ComponentVideo
	ComponentAudio
)

// FlagMaskModule isolates the Component value packed into Header.Flags.
const FlagMaskModule uint32 = 0x000000FF

// PacketType enumerates the payload kinds the router itself interprets.
// Consumer-specific payload types (telemetry frames, RC channels, video
// FEC blocks) pass through opaquely and do not need a constant here.
type PacketType uint8

const (
	TypeRouterReady PacketType = iota + 1
	TypeRadioInterfaceFailedToInitialize
	TypePingClock
	TypePairingRequest
	TypeVideoReqMultiplePackets
	TypeVideoReqMultiplePackets2
	TypeCommandSetRadioLinkFrequency
	TypeCommandSetCameraParameters
	TypeCommandSetRadioLinkFlags
	TypeAlarm
)

var errShortBuffer = errors.New("wire: buffer shorter than header")

// Field byte offsets within an encoded Header.
const (
	offFlags              = 0
	offType               = 4
	offStreamPacketIdx    = 5
	offVehicleIDSrc       = 9
	offVehicleIDDest      = 13
	offTotalHeadersLength = 17
	offTotalLength        = 19
	offExtraFlags         = 21
	offCRC                = 23
	// HeaderSize is the encoded length of Header in bytes.
	HeaderSize = offCRC + 4
)

// Header is the little-endian prefix of every radio frame.
type Header struct {
	Flags              uint32
	Type               PacketType
	StreamPacketIdx    uint32
	VehicleIDSrc       uint32
	VehicleIDDest      uint32
	TotalHeadersLength uint16
	TotalLength        uint16
	ExtraFlags         uint16
	CRC                uint32
}

// ShortHeader is the reduced framing used on SiK links, where every byte
// of airtime is precious.
type ShortHeader struct {
	Type        PacketType
	TotalLength uint16
}

const ShortHeaderSize = 1 + 2

// Component returns the packet's tagged component.
func (h Header) Component() Component {
	return Component(h.Flags & FlagMaskModule)
}

// WithComponent returns a copy of h with its component bits replaced.
func (h Header) WithComponent(c Component) Header {
	h.Flags = (h.Flags &^ FlagMaskModule) | uint32(c)
	return h
}

// Encode writes the header followed by payload into a single frame and
// seals it with a CRC32 covering bytes [0, TotalLength) with the CRC
// field itself zeroed during computation.
func Encode(h Header, payload []byte) []byte {
	h.TotalHeadersLength = HeaderSize
	h.TotalLength = uint16(HeaderSize + len(payload))
	h.CRC = 0

	buf := make([]byte, int(h.TotalLength))
	putHeader(buf, h)
	copy(buf[HeaderSize:], payload)

	crc := crc32.ChecksumIEEE(buf)
	binary.LittleEndian.PutUint32(buf[offCRC:offCRC+4], crc)
	return buf
}

// Decode parses a header from the front of buf. It does not verify the
// CRC; call Verify separately.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errShortBuffer
	}
	return getHeader(buf), nil
}

// Verify reports whether buf's embedded CRC matches its contents.
func Verify(buf []byte) bool {
	h, err := Decode(buf)
	if err != nil || int(h.TotalLength) > len(buf) || h.TotalLength < HeaderSize {
		return false
	}
	scratch := make([]byte, h.TotalLength)
	copy(scratch, buf[:h.TotalLength])
	binary.LittleEndian.PutUint32(scratch[offCRC:offCRC+4], 0)
	return crc32.ChecksumIEEE(scratch) == h.CRC
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[offFlags:offFlags+4], h.Flags)
	buf[offType] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[offStreamPacketIdx:offStreamPacketIdx+4], h.StreamPacketIdx)
	binary.LittleEndian.PutUint32(buf[offVehicleIDSrc:offVehicleIDSrc+4], h.VehicleIDSrc)
	binary.LittleEndian.PutUint32(buf[offVehicleIDDest:offVehicleIDDest+4], h.VehicleIDDest)
	binary.LittleEndian.PutUint16(buf[offTotalHeadersLength:offTotalHeadersLength+2], h.TotalHeadersLength)
	binary.LittleEndian.PutUint16(buf[offTotalLength:offTotalLength+2], h.TotalLength)
	binary.LittleEndian.PutUint16(buf[offExtraFlags:offExtraFlags+2], h.ExtraFlags)
	binary.LittleEndian.PutUint32(buf[offCRC:offCRC+4], h.CRC)
}

func getHeader(buf []byte) Header {
	return Header{
		Flags:              binary.LittleEndian.Uint32(buf[offFlags : offFlags+4]),
		Type:               PacketType(buf[offType]),
		StreamPacketIdx:    binary.LittleEndian.Uint32(buf[offStreamPacketIdx : offStreamPacketIdx+4]),
		VehicleIDSrc:       binary.LittleEndian.Uint32(buf[offVehicleIDSrc : offVehicleIDSrc+4]),
		VehicleIDDest:      binary.LittleEndian.Uint32(buf[offVehicleIDDest : offVehicleIDDest+4]),
		TotalHeadersLength: binary.LittleEndian.Uint16(buf[offTotalHeadersLength : offTotalHeadersLength+2]),
		TotalLength:        binary.LittleEndian.Uint16(buf[offTotalLength : offTotalLength+2]),
		ExtraFlags:         binary.LittleEndian.Uint16(buf[offExtraFlags : offExtraFlags+2]),
		CRC:                binary.LittleEndian.Uint32(buf[offCRC : offCRC+4]),
	}
}

// SetVehicleIDSrc rewrites the source vehicle ID in place and reseals the
// CRC, matching the router's rule that every outgoing frame is stamped
// with the controller's UID just before transmission.
func SetVehicleIDSrc(buf []byte, controllerUID uint32) error {
	if len(buf) < HeaderSize {
		return errShortBuffer
	}
	binary.LittleEndian.PutUint32(buf[offVehicleIDSrc:offVehicleIDSrc+4], controllerUID)
	binary.LittleEndian.PutUint32(buf[offCRC:offCRC+4], 0)
	total := binary.LittleEndian.Uint16(buf[offTotalLength : offTotalLength+2])
	if int(total) > len(buf) {
		total = uint16(len(buf))
	}
	crc := crc32.ChecksumIEEE(buf[:total])
	binary.LittleEndian.PutUint32(buf[offCRC:offCRC+4], crc)
	return nil
}

// EncodeShort writes a ShortHeader-prefixed frame for SiK links.
func EncodeShort(h ShortHeader, payload []byte) []byte {
	h.TotalLength = uint16(ShortHeaderSize + len(payload))
	buf := make([]byte, h.TotalLength)
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[1:3], h.TotalLength)
	copy(buf[ShortHeaderSize:], payload)
	return buf
}

// DecodeShort parses a ShortHeader from the front of buf, the SiK-link
// counterpart of Decode.
func DecodeShort(buf []byte) (ShortHeader, error) {
	if len(buf) < ShortHeaderSize {
		return ShortHeader{}, errShortBuffer
	}
	return ShortHeader{
		Type:        PacketType(buf[0]),
		TotalLength: binary.LittleEndian.Uint16(buf[1:3]),
	}, nil
}

// RadioLinkFlagsPayloadSize is the fixed payload length a
// TypeCommandSetRadioLinkFlags packet carries after the header.
const RadioLinkFlagsPayloadSize = 4 + 4 + 4 + 4

// RadioLinkFlags is a decoded TypeCommandSetRadioLinkFlags payload: which
// link it targets, its new capability flags, and its video/data TX
// datarates.
type RadioLinkFlags struct {
	LinkIndex     uint32
	LinkFlags     uint32
	DatarateVideo int32
	DatarateData  int32
}

// DecodeRadioLinkFlags parses a TypeCommandSetRadioLinkFlags payload
// (the bytes following the header), little-endian throughout.
func DecodeRadioLinkFlags(payload []byte) (RadioLinkFlags, error) {
	if len(payload) < RadioLinkFlagsPayloadSize {
		return RadioLinkFlags{}, errShortBuffer
	}
	return RadioLinkFlags{
		LinkIndex:     binary.LittleEndian.Uint32(payload[0:4]),
		LinkFlags:     binary.LittleEndian.Uint32(payload[4:8]),
		DatarateVideo: int32(binary.LittleEndian.Uint32(payload[8:12])),
		DatarateData:  int32(binary.LittleEndian.Uint32(payload[12:16])),
	}, nil
}
