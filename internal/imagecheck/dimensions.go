package imagecheck

import "encoding/binary"

// Dimensions holds pixel measurements parsed from an image header.
type Dimensions struct {
	Width  int
	Height int
}

// JPEG markers that matter to the scan. SOF0 is baseline, SOF2 progressive;
// both carry dimensions in the same body layout.
const (
	jpegMarkerSOF0 = 0xC0
	jpegMarkerSOF2 = 0xC2
	jpegMarkerSOI  = 0xD8
	jpegMarkerEOI  = 0xD9
	jpegMarkerTEM  = 0x01
)

// ExtractDimensions parses width and height directly from the byte stream
// without decoding the image. It returns nil for formats that have no parser
// (webp) and for truncated or malformed streams. Never panics on hostile
// input.
func ExtractDimensions(data []byte, format Format) *Dimensions {
	switch format {
	case FormatPNG:
		return pngDimensions(data)
	case FormatJPEG:
		return jpegDimensions(data)
	}
	return nil
}

// pngDimensions reads the IHDR width at offset 16 and height at offset 20.
// The IHDR chunk is mandated to be first, so fixed offsets are safe.
func pngDimensions(data []byte) *Dimensions {
	if len(data) <= 24 {
		return nil
	}
	return &Dimensions{
		Width:  int(binary.BigEndian.Uint32(data[16:20])),
		Height: int(binary.BigEndian.Uint32(data[20:24])),
	}
}

// jpegDimensions walks the marker segments after SOI until it finds the first
// start-of-frame segment, whose body carries height then width as big-endian
// uint16 after a one-byte sample precision.
func jpegDimensions(data []byte) *Dimensions {
	i := 2
	for i+1 < len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]

		// 0xFF fill bytes may pad the space between segments.
		if marker == 0xFF {
			i++
			continue
		}
		// Standalone markers carry no length word.
		if marker == jpegMarkerTEM || marker == jpegMarkerSOI || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		if marker == jpegMarkerEOI {
			return nil
		}

		if i+4 > len(data) {
			return nil
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if segLen < 2 || i+2+segLen > len(data) {
			return nil
		}

		if marker == jpegMarkerSOF0 || marker == jpegMarkerSOF2 {
			if segLen < 7 {
				return nil
			}
			return &Dimensions{
				Height: int(binary.BigEndian.Uint16(data[i+5 : i+7])),
				Width:  int(binary.BigEndian.Uint16(data[i+7 : i+9])),
			}
		}

		i += 2 + segLen
	}
	return nil
}
