// Package packet 报文帧解析与端口改写。
//
// 所有函数都只在调用方给出的 []byte 范围内读写，越界时返回错误而不是 panic。
package packet

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortBuffer = errors.New("packet: buffer too short")
	ErrOffset      = errors.New("packet: invalid offset")
	ErrNotIPv4     = errors.New("packet: not an IPv4 frame")
	ErrHeader      = errors.New("packet: malformed header")
)

// Packet 待处理报文，Mark 为带外转发标记（主机字节序），不写入报文字节
type Packet struct {
	Data []byte
	Mark uint32
}

func checkRange(buf []byte, off, n int) error {
	if off < 0 {
		return ErrOffset
	}
	if off > len(buf)-n {
		return ErrShortBuffer
	}
	return nil
}

// ReadUint16 按网络字节序读取 16 位字段
func ReadUint16(buf []byte, off int) (uint16, error) {
	if err := checkRange(buf, off, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[off:]), nil
}

// SetPort 覆盖 16 位端口字段，返回旧值
func SetPort(buf []byte, off int, port uint16) (uint16, error) {
	old, err := ReadUint16(buf, off)
	if err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint16(buf[off:], port)
	return old, nil
}

// UpdateChecksum RFC 1624 增量更新：HC' = ~(~HC + ~m + m')
// 校验和为 0 表示 UDP 未启用校验，保持为 0
func UpdateChecksum(csum, old, new uint16) uint16 {
	if csum == 0 {
		return 0
	}
	sum := uint32(^csum) + uint32(^old) + uint32(new)
	sum = (sum & 0xffff) + (sum >> 16)
	sum = (sum & 0xffff) + (sum >> 16)
	res := ^uint16(sum)
	if res == 0 {
		// UDP 中计算结果为 0 时按 0xffff 发送
		res = 0xffff
	}
	return res
}

// RewritePort 改写端口并同步修正校验和
func RewritePort(buf []byte, portOff, csumOff int, port uint16) error {
	if err := checkRange(buf, portOff, 2); err != nil {
		return err
	}
	csum, err := ReadUint16(buf, csumOff)
	if err != nil {
		return err
	}
	old, _ := SetPort(buf, portOff, port)
	binary.BigEndian.PutUint16(buf[csumOff:], UpdateChecksum(csum, old, port))
	return nil
}
