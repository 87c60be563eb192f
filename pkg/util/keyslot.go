package util

import (
	"strings"
)

// keyTag 提取 {tag}，与 redis cluster 的 hash tag 规则一致
func keyTag(key string) string {
	i := strings.IndexByte(key, '{')
	if i < 0 {
		return key
	}
	j := strings.IndexByte(key[i+1:], '}')
	if j < 0 {
		return key
	}
	if j == 0 { // "{}" 空标签
		return key
	}
	return key[i+1 : i+1+j]
}

func makeCRC16Table(poly uint16) [256]uint16 {
	var tab [256]uint16
	for i := 0; i < 256; i++ {
		var crc uint16 = uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		tab[i] = crc
	}
	return tab
}

var crc16Tab = makeCRC16Table(0x1021)

func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		idx := byte((crc >> 8) ^ uint16(b))
		crc = (crc << 8) ^ crc16Tab[idx]
	}
	return crc
}

// KeySlot maps a key onto one of the 16384 cluster slots, honouring {hash tags}.
func KeySlot(key string) uint16 {
	return crc16CCITT([]byte(keyTag(key))) % 16384
}

// ShardOf spreads keys over n shards using the cluster slot.
func ShardOf(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(KeySlot(key)) % n
}
