package packet

import (
	"encoding/binary"
)

const (
	EthHeaderLen     = 14
	IPv4MinHeaderLen = 20
	UDPHeaderLen     = 8
	DNSHeaderLen     = 12

	EtherTypeIPv4 = 0x0800
	ProtoUDP      = 17

	// IPv4 标志/片偏移字段中片偏移所占的位
	IPv4FragOffsetMask = 0x1fff

	// UDP 头内字段偏移
	UDPSrcPortOff  = 0
	UDPDstPortOff  = 2
	UDPChecksumOff = 6
)

// Frame 以太网 + IPv4 头解析结果，偏移相对于 Data 起始
type Frame struct {
	IPOffset int
	L4Offset int
	Protocol uint8
	// FragOffset 片偏移（8 字节为单位），非 0 时 L4Offset 处不是传输层头
	FragOffset uint16
	Src        uint32
	Dst        uint32
}

// ParseIPv4 解析以太网帧中的 IPv4 头，IHL 大于 5 时跳过选项
func ParseIPv4(data []byte) (Frame, error) {
	if len(data) < EthHeaderLen {
		return Frame{}, ErrShortBuffer
	}
	if binary.BigEndian.Uint16(data[12:14]) != EtherTypeIPv4 {
		return Frame{}, ErrNotIPv4
	}
	ip := data[EthHeaderLen:]
	if len(ip) < IPv4MinHeaderLen {
		return Frame{}, ErrShortBuffer
	}
	if ip[0]>>4 != 4 {
		return Frame{}, ErrNotIPv4
	}
	ihl := int(ip[0]&0x0f) * 4
	if ihl < IPv4MinHeaderLen {
		return Frame{}, ErrHeader
	}
	if len(ip) < ihl {
		return Frame{}, ErrShortBuffer
	}
	return Frame{
		IPOffset:   EthHeaderLen,
		L4Offset:   EthHeaderLen + ihl,
		Protocol:   ip[9],
		FragOffset: binary.BigEndian.Uint16(ip[6:8]) & IPv4FragOffsetMask,
		Src:        binary.BigEndian.Uint32(ip[12:16]),
		Dst:        binary.BigEndian.Uint32(ip[16:20]),
	}, nil
}

// IsUDP 协议号是否为 UDP
func (f Frame) IsUDP() bool {
	return f.Protocol == ProtoUDP
}

// LaterFragment 是否为非首个分片，这类分片没有传输层头
func (f Frame) LaterFragment() bool {
	return f.FragOffset != 0
}

// UDP 头字段的绝对偏移
func (f Frame) SrcPortOffset() int  { return f.L4Offset + UDPSrcPortOff }
func (f Frame) DstPortOffset() int  { return f.L4Offset + UDPDstPortOff }
func (f Frame) ChecksumOffset() int { return f.L4Offset + UDPChecksumOff }

// QuestionOffset DNS 问题区起始偏移
func (f Frame) QuestionOffset() int {
	return f.L4Offset + UDPHeaderLen + DNSHeaderLen
}

// UDPPorts 读取源端口和目的端口，UDP 头不完整时返回 ErrShortBuffer
func (f Frame) UDPPorts(data []byte) (src, dst uint16, err error) {
	if err = checkRange(data, f.L4Offset, UDPHeaderLen); err != nil {
		return 0, 0, err
	}
	src = binary.BigEndian.Uint16(data[f.SrcPortOffset():])
	dst = binary.BigEndian.Uint16(data[f.DstPortOffset():])
	return src, dst, nil
}
