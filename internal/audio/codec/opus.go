// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// Opus output framing: 48kHz mono, 20ms frames of 960 samples.
const (
	OpusFrameSamples = OpusRate / 1000 * FrameDuration
	opusMaxPacket    = 1275 // RFC 6716 maximum compressed frame
)

// OpusEncoder wraps a mono VoIP-tuned libopus encoder producing one packet
// per 20ms frame. Not safe for concurrent use.
type OpusEncoder struct {
	enc *opus.Encoder
}

// NewOpusEncoder creates the 48kHz mono encoder used on the outbound path.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(OpusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// EncodeFrame compresses exactly one 20ms 48kHz frame. Short input is
// zero-padded to the frame size.
func (o *OpusEncoder) EncodeFrame(pcm48k []int16) ([]byte, error) {
	frame := pcm48k
	if len(frame) < OpusFrameSamples {
		frame = make([]int16, OpusFrameSamples)
		copy(frame, pcm48k)
	} else if len(frame) > OpusFrameSamples {
		frame = frame[:OpusFrameSamples]
	}
	buf := make([]byte, opusMaxPacket)
	n, err := o.enc.Encode(frame, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return buf[:n], nil
}
