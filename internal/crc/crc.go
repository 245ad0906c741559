// Package crc computes the CRC-16/CCITT-FALSE checksum the firmware
// uses to authenticate frame-id LED packets: polynomial 0x1021,
// initial value 0xFFFF, MSB first, no reflection.
package crc

import "github.com/sigurn/crc16"

var table = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum16 returns the CRC-16/CCITT-FALSE of data.
func Checksum16(data []byte) uint16 { return crc16.Checksum(data, table) }
