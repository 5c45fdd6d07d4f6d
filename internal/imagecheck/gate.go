package imagecheck

import "fmt"

// MinDimension is the smallest side length the detector accepts. Uploads
// below it in either dimension are rejected before anything is published.
const MinDimension = 256

// RejectReason identifies why an upload was refused.
type RejectReason string

const (
	RejectUnknownImageType     RejectReason = "UNKNOWN_IMAGE_TYPE"
	RejectFormatNotSupported   RejectReason = "FORMAT_NOT_SUPPORTED"
	RejectCannotReadDimensions RejectReason = "CANNOT_READ_DIMENSIONS"
	RejectImageTooSmall        RejectReason = "IMAGE_TOO_SMALL"
)

// Report is the gate's verdict over one upload.
type Report struct {
	Accepted bool
	Format   Format
	Width    int
	Height   int
	Reason   RejectReason
	// Message is the human-readable rejection text that ends up in the
	// response label. Empty on acceptance.
	Message string
}

// hasDimensionParser reports whether ExtractDimensions understands the
// format. WEBP is sniffable but deliberately not parseable: eligibility is
// narrower than sniffing breadth.
func hasDimensionParser(f Format) bool {
	return f == FormatPNG || f == FormatJPEG
}

// Evaluate applies the acceptance policy to raw upload bytes. Checks run in
// order and the first failure wins; the result never carries an error, only
// a reject reason, so callers fold it straight into the response envelope.
func Evaluate(data []byte) Report {
	format := DetectFormat(data)
	if format == FormatUnknown {
		return Report{
			Format:  format,
			Reason:  RejectUnknownImageType,
			Message: "Unknown image type: only PNG, JPEG and WEBP signatures are recognized",
		}
	}

	if !hasDimensionParser(format) {
		return Report{
			Format:  format,
			Reason:  RejectFormatNotSupported,
			Message: fmt.Sprintf("Format %s is not supported for detection", format),
		}
	}

	dims := ExtractDimensions(data, format)
	if dims == nil {
		return Report{
			Format:  format,
			Reason:  RejectCannotReadDimensions,
			Message: fmt.Sprintf("Cannot read dimensions from %s data", format),
		}
	}

	if dims.Width < MinDimension || dims.Height < MinDimension {
		return Report{
			Format: format,
			Width:  dims.Width,
			Height: dims.Height,
			Reason: RejectImageTooSmall,
			Message: fmt.Sprintf("Image too small: %dx%d (minimum %dx%d)",
				dims.Width, dims.Height, MinDimension, MinDimension),
		}
	}

	return Report{
		Accepted: true,
		Format:   format,
		Width:    dims.Width,
		Height:   dims.Height,
	}
}
