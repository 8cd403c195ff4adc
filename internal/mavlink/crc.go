package mavlink

// X.25 checksum as used by MAVLink (CRC-16/MCRF4XX).

const crcInit = 0xFFFF

func crcAccumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func crcAccumulateBytes(data []byte, crc uint16) uint16 {
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crc
}

// crcExtra seeds the checksum with a digest of each message definition so that
// both ends agree on field layout. Only the ids this broker consumes are listed;
// frames with unlisted ids cannot be validated and are dropped.
var crcExtra = map[uint32]byte{
	MsgIDHeartbeat:         50,
	MsgIDSysStatus:         124,
	MsgIDGPSRawInt:         24,
	MsgIDAttitude:          39,
	MsgIDGlobalPositionInt: 104,
	MsgIDServoOutputRaw:    222,
	MsgIDMissionRequest:    230,
	MsgIDMissionCurrent:    28,
	MsgIDMissionCount:      221,
	MsgIDMissionAck:        153,
	MsgIDMissionRequestInt: 196,
	MsgIDMissionItemInt:    38,
	MsgIDVFRHud:            20,
	MsgIDCommandLong:       152,
	MsgIDCommandAck:        143,
	MsgIDBatteryStatus:     154,
	MsgIDStatusText:        83,
}

// payloadLen is the full (untruncated) payload size per message id. MAVLink v2
// truncates trailing zero bytes on the wire; decode zero-extends back to this.
var payloadLen = map[uint32]int{
	MsgIDHeartbeat:         9,
	MsgIDSysStatus:         31,
	MsgIDGPSRawInt:         30,
	MsgIDAttitude:          28,
	MsgIDGlobalPositionInt: 28,
	MsgIDServoOutputRaw:    21,
	MsgIDMissionRequest:    4,
	MsgIDMissionCurrent:    2,
	MsgIDMissionCount:      4,
	MsgIDMissionAck:        3,
	MsgIDMissionRequestInt: 4,
	MsgIDMissionItemInt:    37,
	MsgIDVFRHud:            20,
	MsgIDCommandLong:       33,
	MsgIDCommandAck:        3,
	MsgIDBatteryStatus:     36,
	MsgIDStatusText:        51,
}
