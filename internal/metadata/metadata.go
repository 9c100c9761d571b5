// Package metadata carries the opaque per-request settings blob the camera
// framework hands down with each capture request.
//
// The shim does not interpret the blob beyond the handful of well-known tags
// the conversion engine needs (JPEG quality, orientation, GPS, focal length,
// thumbnail size). Everything else rides along untouched: negotiation of what
// the tags mean belongs to the framework, not to this repository.
//
// Settings values are immutable once built. Deriving a changed blob always
// produces a new snapshot, so a snapshot captured at submission time cannot
// be perturbed by later requests.
package metadata

import (
	"encoding/binary"
	"math"
)

// Tag identifies one settings entry.
type Tag uint32

// Well-known tags consumed by the conversion engine.
const (
	// TagJPEGQuality is a uint8 in 1..100.
	TagJPEGQuality Tag = 0x0101
	// TagOrientation is a uint16 EXIF orientation code (1..8).
	TagOrientation Tag = 0x0102
	// TagThumbnailWidth and TagThumbnailHeight are uint32 pixels; zero or
	// absent means no embedded thumbnail.
	TagThumbnailWidth  Tag = 0x0103
	TagThumbnailHeight Tag = 0x0104
	// TagFocalLength is a float64 in millimetres.
	TagFocalLength Tag = 0x0105
	// TagGPSLatitude and TagGPSLongitude are float64 signed degrees.
	TagGPSLatitude  Tag = 0x0106
	TagGPSLongitude Tag = 0x0107
	// TagGPSAltitude is a float64 in metres (negative below sea level).
	TagGPSAltitude Tag = 0x0108
	// TagGPSTimestamp is an int64 Unix timestamp in seconds, UTC.
	TagGPSTimestamp Tag = 0x0109
	// TagTimestamp is an int64 Unix timestamp in seconds for DateTime tags.
	TagTimestamp Tag = 0x010a
)

// Driver-control tags the device backends map onto hardware controls.
const (
	// TagBrightness and TagContrast are uint32-encoded int32 control values.
	TagBrightness Tag = 0x0201
	TagContrast   Tag = 0x0202
)

// Settings is an immutable snapshot of opaque key/value entries.
//
// The zero value is the "no settings supplied" marker a request may carry to
// mean "reuse the previously accepted settings" (only meaningful after some
// settings have ever been accepted; the orchestrator enforces that).
type Settings struct {
	m map[Tag][]byte
}

// New copies entries into an immutable snapshot.
func New(entries map[Tag][]byte) Settings {
	if len(entries) == 0 {
		return Settings{m: map[Tag][]byte{}}
	}
	m := make(map[Tag][]byte, len(entries))
	for k, v := range entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		m[k] = cp
	}
	return Settings{m: m}
}

// IsNil reports whether this is the zero "reuse previous" marker, as opposed
// to an empty-but-present blob.
func (s Settings) IsNil() bool { return s.m == nil }

// Len returns the number of entries.
func (s Settings) Len() int { return len(s.m) }

// Raw returns the stored bytes for a tag.
func (s Settings) Raw(tag Tag) ([]byte, bool) {
	v, ok := s.m[tag]
	return v, ok
}

// With derives a new snapshot with one entry replaced. The receiver is left
// untouched.
func (s Settings) With(tag Tag, value []byte) Settings {
	m := make(map[Tag][]byte, len(s.m)+1)
	for k, v := range s.m {
		m[k] = v
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m[tag] = cp
	return Settings{m: m}
}

// Merge derives a new snapshot with all entries of other layered on top of s.
func (s Settings) Merge(other Settings) Settings {
	m := make(map[Tag][]byte, len(s.m)+len(other.m))
	for k, v := range s.m {
		m[k] = v
	}
	for k, v := range other.m {
		m[k] = v
	}
	return Settings{m: m}
}

// U8 reads a tag as a single byte.
func (s Settings) U8(tag Tag) (uint8, bool) {
	v, ok := s.m[tag]
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// U16 reads a tag as a little-endian uint16.
func (s Settings) U16(tag Tag) (uint16, bool) {
	v, ok := s.m[tag]
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(v), true
}

// U32 reads a tag as a little-endian uint32.
func (s Settings) U32(tag Tag) (uint32, bool) {
	v, ok := s.m[tag]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

// I64 reads a tag as a little-endian int64.
func (s Settings) I64(tag Tag) (int64, bool) {
	v, ok := s.m[tag]
	if !ok || len(v) != 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v)), true
}

// F64 reads a tag as a little-endian IEEE-754 double.
func (s Settings) F64(tag Tag) (float64, bool) {
	v, ok := s.m[tag]
	if !ok || len(v) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v)), true
}

// Builder accumulates entries for a Settings snapshot. Not safe for
// concurrent use; Build hands out the immutable result.
type Builder struct {
	m map[Tag][]byte
}

func NewBuilder() *Builder {
	return &Builder{m: map[Tag][]byte{}}
}

func (b *Builder) SetU8(tag Tag, v uint8) *Builder {
	b.m[tag] = []byte{v}
	return b
}

func (b *Builder) SetU16(tag Tag, v uint16) *Builder {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	b.m[tag] = buf
	return b
}

func (b *Builder) SetU32(tag Tag, v uint32) *Builder {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	b.m[tag] = buf
	return b
}

func (b *Builder) SetI64(tag Tag, v int64) *Builder {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	b.m[tag] = buf
	return b
}

func (b *Builder) SetF64(tag Tag, v float64) *Builder {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	b.m[tag] = buf
	return b
}

func (b *Builder) Build() Settings {
	return New(b.m)
}
