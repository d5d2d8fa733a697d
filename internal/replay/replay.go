// Package replay 把 pcap 抓包逐个送入分流引擎，以抓包时间作为缓存时钟
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"dnsSteer/internal/dispatch"
	"dnsSteer/internal/packet"
	"dnsSteer/internal/utils"
)

const snapLen = 65536

// CaptureClock 跟随抓包时间戳的纳秒时钟
type CaptureClock struct {
	now atomic.Uint64
}

// Now 当前抓包时间
func (c *CaptureClock) Now() uint64 {
	return c.now.Load()
}

// Set 推进到指定时间，时间倒退时保持不变
func (c *CaptureClock) Set(t time.Time) {
	ns := uint64(t.UnixNano())
	for {
		cur := c.now.Load()
		if ns <= cur || c.now.CompareAndSwap(cur, ns) {
			return
		}
	}
}

// Result 回放结果
type Result struct {
	Packets   int            `json:"packets"`
	Rewritten int            `json:"rewritten"`
	Marked    int            `json:"marked"`
	Engine    dispatch.Stats `json:"engine"`
}

// Run 读取 r 中的 pcap，处理后写入 w（w 为 nil 时只统计）
func Run(ctx context.Context, r io.Reader, w io.Writer, engine *dispatch.Engine, clock *CaptureClock, logger *utils.Logger) (Result, error) {
	var res Result

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return res, utils.NewSteerError(utils.ErrCodeReplay, "failed to open capture", err)
	}
	if reader.LinkType() != layers.LinkTypeEthernet {
		return res, utils.NewSteerError(utils.ErrCodeReplay,
			fmt.Sprintf("unsupported link type %s", reader.LinkType()), nil)
	}

	var writer *pcapgo.Writer
	if w != nil {
		writer = pcapgo.NewWriter(w)
		if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
			return res, utils.NewSteerError(utils.ErrCodeReplay, "failed to write capture header", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, utils.NewSteerError(utils.ErrCodeReplay, "failed to read packet", err)
		}

		if clock != nil {
			clock.Set(ci.Timestamp)
		}
		orig := append([]byte(nil), data...)
		p := &packet.Packet{Data: data}
		engine.Process(p)

		res.Packets++
		if !bytes.Equal(orig, p.Data) {
			res.Rewritten++
		}
		if p.Mark != 0 {
			res.Marked++
		}

		if writer != nil {
			ci.CaptureLength = len(p.Data)
			if err := writer.WritePacket(ci, p.Data); err != nil {
				return res, utils.NewSteerError(utils.ErrCodeReplay, "failed to write packet", err)
			}
		}
	}

	res.Engine = engine.Stats()
	logger.Info("回放完成: %d 个报文, 改写 %d, 标记 %d", res.Packets, res.Rewritten, res.Marked)
	return res, nil
}
