// Package imagecheck decides whether uploaded bytes are an eligible raster
// image. Format and dimensions are read straight out of the byte stream;
// filenames and declared content types are never consulted, so a mislabeled
// or disguised payload cannot talk its way past the gate.
package imagecheck

import "bytes"

// Format is an image format detected from byte content.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatWEBP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// minSniffLen is the shortest input that can carry any recognizable
// signature; the WEBP check reads up to offset 11.
const minSniffLen = 12

var (
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicJPEG = []byte{0xFF, 0xD8}
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
)

// DetectFormat classifies raw bytes by magic signature. Inputs shorter than
// 12 bytes, or matching no known signature, are FormatUnknown.
func DetectFormat(data []byte) Format {
	if len(data) < minSniffLen {
		return FormatUnknown
	}

	switch {
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return FormatWEBP
	}
	return FormatUnknown
}

// Extension returns the canonical file extension for a sniffed format, used
// when publishing so stored names never inherit the caller's extension.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpg"
	case FormatWEBP:
		return "webp"
	}
	return "bin"
}
