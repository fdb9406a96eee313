package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// RakNet offline message packet IDs.
const (
	idUnconnectedPing byte = 0x01
	idUnconnectedPong byte = 0x1c
)

// magic is the 16-byte offline message marker every unconnected ping and
// pong carries.
var magic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

const (
	// id(1) + pingTime(8) + magic(16) + clientID(8)
	pingPacketLen = 33

	// id(1) + pingTime(8) + serverGUID(8) + magic(16) + payloadLen(2)
	pongHeaderLen = 35
)

// buildUnconnectedPing serializes a 0x01 unconnected ping packet.
func buildUnconnectedPing(pingTime, clientID uint64) []byte {
	buf := make([]byte, 0, pingPacketLen)
	buf = append(buf, idUnconnectedPing)
	buf = binary.BigEndian.AppendUint64(buf, pingTime)
	buf = append(buf, magic[:]...)
	buf = binary.BigEndian.AppendUint64(buf, clientID)
	return buf
}

// parseUnconnectedPong decodes a 0x1c unconnected pong packet and returns
// its decoded payload.
func parseUnconnectedPong(data []byte) (*Pong, error) {
	if len(data) < pongHeaderLen {
		return nil, fmt.Errorf("pong packet too short: %d bytes", len(data))
	}
	if data[0] != idUnconnectedPong {
		return nil, fmt.Errorf("unexpected packet ID 0x%02x", data[0])
	}
	if !bytes.Equal(data[17:33], magic[:]) {
		return nil, fmt.Errorf("bad magic in pong packet")
	}

	payloadLen := int(binary.BigEndian.Uint16(data[33:35]))
	payload := data[pongHeaderLen:]
	if payloadLen > len(payload) {
		return nil, fmt.Errorf("pong payload truncated: want %d bytes, have %d", payloadLen, len(payload))
	}

	return parsePongPayload(string(payload[:payloadLen])), nil
}

// parsePongPayload splits the semicolon-separated pong string into its
// fields. Servers may send fewer or more fields than the twelve defined;
// missing trailing fields are left empty and extras are ignored.
func parsePongPayload(s string) *Pong {
	parts := strings.Split(s, ";")
	var p Pong
	fields := []*string{
		&p.Edition, &p.MOTD, &p.ProtocolVersion, &p.Version,
		&p.Players, &p.MaxPlayers, &p.ServerID, &p.SubMOTD,
		&p.GameMode, &p.GameModeNumeric, &p.PortV4, &p.PortV6,
	}
	for i, f := range fields {
		if i < len(parts) {
			*f = parts[i]
		}
	}
	return &p
}
