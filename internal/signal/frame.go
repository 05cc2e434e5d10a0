// Package signal moves connection offers and answers between devices as a
// cycling sequence of QR frames. Each frame is the JSON array
// [index, payload]; the total is agreed out of band.
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/conorfennell/flashsync/internal/chunk"
)

var ErrMalformedFrame = errors.New("malformed frame")

// EncodeFrame renders c as [index, payload].
func EncodeFrame(c chunk.Chunk) (string, error) {
	b, err := json.Marshal([]any{c.Index, c.Payload})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeFrame parses a scanned frame.
func DecodeFrame(s string) (int, string, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(s), &parts); err != nil || len(parts) != 2 {
		return 0, "", ErrMalformedFrame
	}
	var (
		index   int
		payload string
	)
	if err := json.Unmarshal(parts[0], &index); err != nil {
		return 0, "", fmt.Errorf("%w: index", ErrMalformedFrame)
	}
	if err := json.Unmarshal(parts[1], &payload); err != nil {
		return 0, "", fmt.Errorf("%w: payload", ErrMalformedFrame)
	}
	return index, payload, nil
}

// Frames splits payload into exactly n encoded frames.
func Frames(payload string, n int) ([]string, error) {
	chunks, err := chunk.SplitCount(payload, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		if out[i], err = EncodeFrame(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodePNG renders frame as a square QR code image of size pixels.
func EncodePNG(frame string, size int) ([]byte, error) {
	code, err := qr.Encode(frame, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encoding qr: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scaling qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("writing png: %w", err)
	}
	return buf.Bytes(), nil
}
