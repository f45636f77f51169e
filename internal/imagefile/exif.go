package imagefile

import (
	"bytes"
	"encoding/binary"
)

const orientationTag = 0x0112

// extractEXIF returns the TIFF-structured EXIF payload embedded in a JPEG
// APP1 segment, a PNG eXIf chunk or a WebP EXIF chunk. The returned slice is
// a copy.
func extractEXIF(format string, data []byte) []byte {
	var payload []byte
	switch format {
	case "jpeg":
		payload = jpegEXIF(data)
	case "png":
		payload = pngEXIF(data)
	case "webp":
		payload = webpEXIF(data)
	}
	if len(payload) < 8 {
		return nil
	}
	return bytes.Clone(payload)
}

func jpegEXIF(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]
		if marker == 0xDA || marker == 0xD9 { // start of scan, end of image
			return nil
		}
		size := int(binary.BigEndian.Uint16(data[i+2:]))
		end := i + 2 + size
		if size < 2 || end > len(data) {
			return nil
		}
		seg := data[i+4 : end]
		if marker == 0xE1 && bytes.HasPrefix(seg, []byte("Exif\x00\x00")) {
			return seg[6:]
		}
		i = end
	}
	return nil
}

func pngEXIF(data []byte) []byte {
	const sigLen = 8
	i := sigLen
	for i+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[i:]))
		typ := string(data[i+4 : i+8])
		start := i + 8
		end := start + n
		if n < 0 || end+4 > len(data) {
			return nil
		}
		switch typ {
		case "eXIf":
			return data[start:end]
		case "IDAT", "IEND":
			// eXIf must precede image data
			return nil
		}
		i = end + 4
	}
	return nil
}

func webpEXIF(data []byte) []byte {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil
	}
	i := 12
	for i+8 <= len(data) {
		fourcc := string(data[i : i+4])
		n := int(binary.LittleEndian.Uint32(data[i+4:]))
		start := i + 8
		end := start + n
		if n < 0 || end > len(data) {
			return nil
		}
		if fourcc == "EXIF" {
			return bytes.TrimPrefix(data[start:end], []byte("Exif\x00\x00"))
		}
		i = end + n%2
	}
	return nil
}

// tiffOrder returns the byte order of a TIFF header and the IFD0 offset.
func tiffOrder(tiff []byte) (binary.ByteOrder, int, bool) {
	if len(tiff) < 8 {
		return nil, 0, false
	}
	var order binary.ByteOrder
	switch string(tiff[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, false
	}
	if order.Uint16(tiff[2:]) != 42 {
		return nil, 0, false
	}
	return order, int(order.Uint32(tiff[4:])), true
}

// orientationEntry finds the IFD0 orientation entry; it returns the offset
// of its value field.
func orientationEntry(tiff []byte) (binary.ByteOrder, int, bool) {
	order, ifd, ok := tiffOrder(tiff)
	if !ok || ifd+2 > len(tiff) {
		return nil, 0, false
	}
	count := int(order.Uint16(tiff[ifd:]))
	for e := 0; e < count; e++ {
		off := ifd + 2 + e*12
		if off+12 > len(tiff) {
			return nil, 0, false
		}
		if order.Uint16(tiff[off:]) == orientationTag {
			return order, off + 8, true
		}
	}
	return nil, 0, false
}

// exifOrientation returns the orientation tag value (1-8) or 0 if absent.
func exifOrientation(tiff []byte) int {
	order, off, ok := orientationEntry(tiff)
	if !ok {
		return 0
	}
	v := int(order.Uint16(tiff[off:]))
	if v < 1 || v > 8 {
		return 0
	}
	return v
}

// resetOrientation rewrites the orientation tag to 1 (top-left) in place.
func resetOrientation(tiff []byte) {
	order, off, ok := orientationEntry(tiff)
	if !ok {
		return
	}
	order.PutUint16(tiff[off:], 1)
}
