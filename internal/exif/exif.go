// Package exif builds the TIFF-structured EXIF payload that goes into a JPEG
// APP1 segment: capture timestamp, orientation, focal length, GPS position in
// degrees-minutes-seconds encoding, and an optional JPEG-compressed thumbnail.
//
// The conversion engine treats this package as a service: it feeds in the
// fields it pulled from the request settings and splices the returned payload
// into the compressed output. Tag semantics live here and nowhere else.
package exif

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// MaxPayload is the largest payload an APP1 segment can carry: the two-byte
// segment length field maxes out at 65,535 and counts itself. Build fails
// rather than truncate when the payload would exceed this.
const MaxPayload = 65533

// TIFF field types used below.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// TIFF/EXIF tag numbers.
const (
	tagOrientation      = 0x0112
	tagDateTime         = 0x0132
	tagExifIFDPointer   = 0x8769
	tagGPSIFDPointer    = 0x8825
	tagDateTimeOriginal = 0x9003
	tagFocalLength      = 0x920a
	tagCompression      = 0x0103
	tagJPEGOffset       = 0x0201
	tagJPEGLength       = 0x0202

	gpsTagVersionID   = 0x0000
	gpsTagLatRef      = 0x0001
	gpsTagLat         = 0x0002
	gpsTagLonRef      = 0x0003
	gpsTagLon         = 0x0004
	gpsTagAltRef      = 0x0005
	gpsTagAlt         = 0x0006
	gpsTagTimeStamp   = 0x0007
	gpsTagDateStamp   = 0x001d
)

// Builder accumulates EXIF fields and serializes them as an APP1 payload
// ("Exif\0\0" followed by a little-endian TIFF structure). Zero-value fields
// that were never set are omitted from the output. Not safe for concurrent
// use.
type Builder struct {
	hasDateTime bool
	dateTime    time.Time

	orientation uint16 // 0 = unset

	focalLengthMM float64 // <=0 = unset

	hasGPS    bool
	latitude  float64
	longitude float64
	altitude  float64
	gpsTime   time.Time

	thumbnail []byte
}

func NewBuilder() *Builder { return &Builder{} }

// SetDateTime records the capture timestamp (DateTime + DateTimeOriginal).
func (b *Builder) SetDateTime(t time.Time) *Builder {
	b.hasDateTime = true
	b.dateTime = t
	return b
}

// SetOrientation records the EXIF orientation code (1..8).
func (b *Builder) SetOrientation(code uint16) *Builder {
	b.orientation = code
	return b
}

// SetFocalLength records the lens focal length in millimetres.
func (b *Builder) SetFocalLength(mm float64) *Builder {
	b.focalLengthMM = mm
	return b
}

// SetGPS records a fix: signed degrees, altitude in metres, timestamp in UTC.
func (b *Builder) SetGPS(latitude, longitude, altitude float64, t time.Time) *Builder {
	b.hasGPS = true
	b.latitude = latitude
	b.longitude = longitude
	b.altitude = altitude
	b.gpsTime = t.UTC()
	return b
}

// SetThumbnail attaches an already JPEG-compressed thumbnail image.
func (b *Builder) SetThumbnail(jpegData []byte) *Builder {
	b.thumbnail = jpegData
	return b
}

// entry is one serialized IFD field. value holds the encoded data; values of
// four bytes or fewer are inlined into the directory, longer ones go to the
// value area after it.
type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

func asciiEntry(tag uint16, s string) entry {
	v := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(v)), value: v}
}

func shortEntry(tag uint16, v uint16) entry {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return entry{tag: tag, typ: typeShort, count: 1, value: buf}
}

func longEntry(tag uint16, v uint32) entry {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return entry{tag: tag, typ: typeLong, count: 1, value: buf}
}

func byteEntry(tag uint16, v ...byte) entry {
	return entry{tag: tag, typ: typeByte, count: uint32(len(v)), value: v}
}

func rationalEntry(tag uint16, pairs ...uint32) entry {
	buf := make([]byte, 4*len(pairs))
	for i, p := range pairs {
		binary.LittleEndian.PutUint32(buf[4*i:], p)
	}
	return entry{tag: tag, typ: typeRational, count: uint32(len(pairs) / 2), value: buf}
}

// pad2 rounds a length up to word alignment as TIFF requires.
func pad2(n int) int { return (n + 1) &^ 1 }

// blockSize is the serialized size of one IFD: directory plus value area.
func blockSize(entries []entry) int {
	size := 2 + 12*len(entries) + 4
	for _, e := range entries {
		if len(e.value) > 4 {
			size += pad2(len(e.value))
		}
	}
	return size
}

// serializeIFD renders one IFD whose directory starts at offset start within
// the TIFF structure, with next as the following-IFD offset (0 terminates).
func serializeIFD(entries []entry, start, next uint32) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	dirSize := 2 + 12*len(entries) + 4
	out := make([]byte, 0, blockSize(entries))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(entries)))

	valueOff := start + uint32(dirSize)
	var valueArea []byte
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint16(out, e.tag)
		out = binary.LittleEndian.AppendUint16(out, e.typ)
		out = binary.LittleEndian.AppendUint32(out, e.count)
		if len(e.value) <= 4 {
			var inline [4]byte
			copy(inline[:], e.value)
			out = append(out, inline[:]...)
			continue
		}
		out = binary.LittleEndian.AppendUint32(out, valueOff)
		padded := make([]byte, pad2(len(e.value)))
		copy(padded, e.value)
		valueArea = append(valueArea, padded...)
		valueOff += uint32(len(padded))
	}
	out = binary.LittleEndian.AppendUint32(out, next)
	return append(out, valueArea...)
}

const exifDateFormat = "2006:01:02 15:04:05"

// toDMS converts signed decimal degrees into degree/minute/second rationals
// (seconds carry 1/1000 precision).
func toDMS(deg float64) (pairs [6]uint32) {
	deg = math.Abs(deg)
	d := math.Floor(deg)
	m := math.Floor((deg - d) * 60)
	s := ((deg-d)*60 - m) * 60
	pairs = [6]uint32{
		uint32(d), 1,
		uint32(m), 1,
		uint32(math.Round(s * 1000)), 1000,
	}
	return pairs
}

// Build serializes the accumulated fields. Fails with EINVAL-classed errors
// if nothing was set, and never truncates: payloads over MaxPayload are an
// error, the caller decides what to drop.
func (b *Builder) Build() ([]byte, error) {
	var ifd0, exifIFD, gpsIFD []entry

	if b.hasDateTime {
		stamp := b.dateTime.Format(exifDateFormat)
		ifd0 = append(ifd0, asciiEntry(tagDateTime, stamp))
		exifIFD = append(exifIFD, asciiEntry(tagDateTimeOriginal, stamp))
	}
	if b.orientation != 0 {
		ifd0 = append(ifd0, shortEntry(tagOrientation, b.orientation))
	}
	if b.focalLengthMM > 0 {
		exifIFD = append(exifIFD, rationalEntry(tagFocalLength,
			uint32(math.Round(b.focalLengthMM*100)), 100))
	}
	if b.hasGPS {
		latRef, lonRef := "N", "E"
		if b.latitude < 0 {
			latRef = "S"
		}
		if b.longitude < 0 {
			lonRef = "W"
		}
		lat, lon := toDMS(b.latitude), toDMS(b.longitude)
		altRef := byte(0)
		alt := b.altitude
		if alt < 0 {
			altRef = 1
			alt = -alt
		}
		h, m, s := b.gpsTime.Clock()
		gpsIFD = append(gpsIFD,
			byteEntry(gpsTagVersionID, 2, 3, 0, 0),
			asciiEntry(gpsTagLatRef, latRef),
			rationalEntry(gpsTagLat, lat[0], lat[1], lat[2], lat[3], lat[4], lat[5]),
			asciiEntry(gpsTagLonRef, lonRef),
			rationalEntry(gpsTagLon, lon[0], lon[1], lon[2], lon[3], lon[4], lon[5]),
			byteEntry(gpsTagAltRef, altRef),
			rationalEntry(gpsTagAlt, uint32(math.Round(alt*100)), 100),
			rationalEntry(gpsTagTimeStamp,
				uint32(h), 1, uint32(m), 1, uint32(s), 1),
			asciiEntry(gpsTagDateStamp, b.gpsTime.Format("2006:01:02")),
		)
	}

	if len(ifd0) == 0 && len(exifIFD) == 0 && len(gpsIFD) == 0 && len(b.thumbnail) == 0 {
		return nil, fmt.Errorf("exif: no fields set: %w", unix.EINVAL)
	}

	// Layout: header(8) | IFD0 | Exif IFD | GPS IFD | IFD1 | thumbnail data.
	// Pointer entries need the downstream offsets, so sizes are computed
	// before anything is serialized.
	ifd0Start := uint32(8)

	// IFD0 grows by pointer entries; account for them before sizing.
	pointerCount := 0
	if len(exifIFD) > 0 {
		pointerCount++
	}
	if len(gpsIFD) > 0 {
		pointerCount++
	}
	ifd0Size := blockSize(ifd0) + 12*pointerCount

	exifStart := ifd0Start + uint32(ifd0Size)
	exifSize := 0
	if len(exifIFD) > 0 {
		exifSize = blockSize(exifIFD)
		ifd0 = append(ifd0, longEntry(tagExifIFDPointer, exifStart))
	}

	gpsStart := exifStart + uint32(exifSize)
	gpsSize := 0
	if len(gpsIFD) > 0 {
		gpsSize = blockSize(gpsIFD)
		ifd0 = append(ifd0, longEntry(tagGPSIFDPointer, gpsStart))
	}

	ifd1Start := gpsStart + uint32(gpsSize)
	nextIFD := uint32(0)
	var ifd1 []entry
	var ifd1Size int
	if len(b.thumbnail) > 0 {
		nextIFD = ifd1Start
		// Three fixed entries, so the thumbnail offset is known up front.
		ifd1Size = 2 + 12*3 + 4
		thumbStart := ifd1Start + uint32(ifd1Size)
		ifd1 = []entry{
			shortEntry(tagCompression, 6),
			longEntry(tagJPEGOffset, thumbStart),
			longEntry(tagJPEGLength, uint32(len(b.thumbnail))),
		}
	}

	tiff := make([]byte, 0, int(ifd1Start)+ifd1Size+len(b.thumbnail))
	tiff = append(tiff, 'I', 'I', 0x2a, 0x00)
	tiff = binary.LittleEndian.AppendUint32(tiff, ifd0Start)
	tiff = append(tiff, serializeIFD(ifd0, ifd0Start, nextIFD)...)
	if exifSize > 0 {
		tiff = append(tiff, serializeIFD(exifIFD, exifStart, 0)...)
	}
	if gpsSize > 0 {
		tiff = append(tiff, serializeIFD(gpsIFD, gpsStart, 0)...)
	}
	if len(ifd1) > 0 {
		tiff = append(tiff, serializeIFD(ifd1, ifd1Start, 0)...)
		tiff = append(tiff, b.thumbnail...)
	}

	payload := append([]byte("Exif\x00\x00"), tiff...)
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("exif: APP1 payload %d bytes exceeds %d: %w",
			len(payload), MaxPayload, unix.EINVAL)
	}
	return payload, nil
}
