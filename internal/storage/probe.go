package storage

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nareix/joy4/format/mp4"
)

// probeDuration inspects a media file adopted from outside the agent. Zero
// means unknown; listings tolerate that.
func probeDuration(path string) time.Duration {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return probeMP4(path)
	case ".avi":
		return probeAVI(path)
	default:
		return 0
	}
}

// probeMP4 walks the packets and takes the largest timestamp. Local files
// only, so the linear scan is acceptable.
func probeMP4(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	demux := mp4.NewDemuxer(f)
	if _, err := demux.Streams(); err != nil {
		return 0
	}
	var last time.Duration
	for {
		pkt, err := demux.ReadPacket()
		if err != nil {
			break
		}
		if pkt.Time > last {
			last = pkt.Time
		}
	}
	return last
}

// probeAVI counts video frame chunks and multiplies by the frame interval
// from the avih header. Streamed files leave total-frame counts unset, so
// the movi scan is the only reliable source.
func probeAVI(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil || len(data) < 12 {
		return 0
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "AVI " {
		return 0
	}

	var microPerFrame uint32
	frames := 0
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		switch id {
		case "LIST":
			// Descend into lists instead of skipping them.
			off += 12
		case "avih":
			if off+8+4 <= len(data) {
				microPerFrame = binary.LittleEndian.Uint32(data[off+8 : off+12])
			}
			off += 8 + int(size) + int(size)%2
		case "00dc":
			frames++
			off += 8 + int(size) + int(size)%2
		default:
			if size == 0xFFFFFFFF {
				return 0
			}
			off += 8 + int(size) + int(size)%2
		}
	}
	if microPerFrame == 0 || frames == 0 {
		return 0
	}
	return time.Duration(frames) * time.Duration(microPerFrame) * time.Microsecond
}
