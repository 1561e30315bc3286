package utils

import "bytes"

const (
	formatGIF     = "gif"
	formatMP4     = "mp4"
	formatWebM    = "webm"
	formatAVI     = "avi"
	formatMJPEG   = "mjpeg"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the container
// format name.
func DetectFormat(data []byte) string {
	if len(data) < 6 {
		return formatUnknown
	}
	// GIF: "GIF87a" / "GIF89a"
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return formatGIF
	}
	// MP4 family: "ftyp" box at offset 4.
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		return formatMP4
	}
	// WebM / Matroska: EBML magic 1A 45 DF A3.
	if data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3 {
		return formatWebM
	}
	// AVI: RIFF....AVI .
	if len(data) >= 12 &&
		bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("AVI ")) {
		return formatAVI
	}
	// Raw MJPEG stream: JPEG SOI marker.
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatMJPEG
	}
	return formatUnknown
}

// ScaleDimensions computes output (w, h) for a uniform scale factor with a
// floor of 1 pixel per axis.
func ScaleDimensions(srcW, srcH int, factor float64) (int, int) {
	w := int(float64(srcW) * factor)
	h := int(float64(srcH) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesReader creates an io.Reader backed by b without allocation.
func BytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
