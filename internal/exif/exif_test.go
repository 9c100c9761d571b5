package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// parseIFD reads the directory at off within tiff and returns tag → raw entry
// bytes plus the next-IFD offset.
func parseIFD(t *testing.T, tiff []byte, off uint32) (map[uint16][]byte, uint32) {
	t.Helper()
	require.Less(t, int(off)+2, len(tiff), "IFD offset out of range")
	count := binary.LittleEndian.Uint16(tiff[off:])
	entries := make(map[uint16][]byte, count)
	var prev uint16
	for i := 0; i < int(count); i++ {
		e := tiff[off+2+uint32(12*i):]
		tag := binary.LittleEndian.Uint16(e)
		if i > 0 {
			assert.Greater(t, tag, prev, "IFD entries must be sorted by tag")
		}
		prev = tag
		entries[tag] = e[:12]
	}
	next := binary.LittleEndian.Uint32(tiff[off+2+uint32(12*count):])
	return entries, next
}

func entryValue(tiff, e []byte) []byte {
	typ := binary.LittleEndian.Uint16(e[2:])
	count := binary.LittleEndian.Uint32(e[4:])
	sizes := map[uint16]uint32{typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8}
	n := sizes[typ] * count
	if n <= 4 {
		return e[8 : 8+n]
	}
	off := binary.LittleEndian.Uint32(e[8:])
	return tiff[off : off+n]
}

func TestBuildStructure(t *testing.T) {
	when := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	payload, err := NewBuilder().
		SetDateTime(when).
		SetOrientation(6).
		SetFocalLength(4.25).
		Build()
	require.NoError(t, err)

	require.True(t, bytes.HasPrefix(payload, []byte("Exif\x00\x00")))
	tiff := payload[6:]
	require.True(t, bytes.HasPrefix(tiff, []byte{'I', 'I', 0x2a, 0x00}), "little-endian TIFF header")
	ifd0Off := binary.LittleEndian.Uint32(tiff[4:])
	assert.Equal(t, uint32(8), ifd0Off)

	ifd0, next := parseIFD(t, tiff, ifd0Off)
	assert.Equal(t, uint32(0), next, "no thumbnail IFD")

	// Orientation inline short.
	require.Contains(t, ifd0, uint16(tagOrientation))
	assert.Equal(t, uint16(6), binary.LittleEndian.Uint16(entryValue(tiff, ifd0[tagOrientation])))

	// DateTime ASCII "2024:06:15 10:30:00" + NUL.
	require.Contains(t, ifd0, uint16(tagDateTime))
	assert.Equal(t, "2024:06:15 10:30:00\x00", string(entryValue(tiff, ifd0[tagDateTime])))

	// Exif IFD pointer resolves to a directory holding DateTimeOriginal and
	// the focal length rational.
	require.Contains(t, ifd0, uint16(tagExifIFDPointer))
	exifOff := binary.LittleEndian.Uint32(entryValue(tiff, ifd0[tagExifIFDPointer]))
	exifIFD, _ := parseIFD(t, tiff, exifOff)
	require.Contains(t, exifIFD, uint16(tagDateTimeOriginal))
	require.Contains(t, exifIFD, uint16(tagFocalLength))
	fl := entryValue(tiff, exifIFD[tagFocalLength])
	assert.Equal(t, uint32(425), binary.LittleEndian.Uint32(fl))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(fl[4:]))
}

func TestBuildGPS(t *testing.T) {
	fix := time.Date(2024, 6, 15, 8, 45, 30, 0, time.UTC)
	payload, err := NewBuilder().
		SetGPS(-33.4489, -70.6693, 520, fix). // Santiago, below the equator
		Build()
	require.NoError(t, err)

	tiff := payload[6:]
	ifd0, _ := parseIFD(t, tiff, 8)
	require.Contains(t, ifd0, uint16(tagGPSIFDPointer))
	gpsOff := binary.LittleEndian.Uint32(entryValue(tiff, ifd0[tagGPSIFDPointer]))
	gps, _ := parseIFD(t, tiff, gpsOff)

	assert.Equal(t, "S\x00", string(entryValue(tiff, gps[gpsTagLatRef])))
	assert.Equal(t, "W\x00", string(entryValue(tiff, gps[gpsTagLonRef])))

	lat := entryValue(tiff, gps[gpsTagLat])
	assert.Equal(t, uint32(33), binary.LittleEndian.Uint32(lat), "degrees")
	assert.Equal(t, uint32(26), binary.LittleEndian.Uint32(lat[8:]), "minutes")
	// 0.4489° → 26' 56.04", stored as thousandths.
	assert.Equal(t, uint32(56040), binary.LittleEndian.Uint32(lat[16:]), "seconds*1000")
	assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(lat[20:]))

	assert.Equal(t, []byte{0}, entryValue(tiff, gps[gpsTagAltRef]), "above sea level")
	assert.Equal(t, "2024:06:15\x00", string(entryValue(tiff, gps[gpsTagDateStamp])))
}

func TestBuildThumbnail(t *testing.T) {
	thumb := []byte{0xFF, 0xD8, 0xFF, 0xD9, 0x01, 0x02, 0x03}
	payload, err := NewBuilder().
		SetOrientation(1).
		SetThumbnail(thumb).
		Build()
	require.NoError(t, err)

	tiff := payload[6:]
	_, next := parseIFD(t, tiff, 8)
	require.NotZero(t, next, "thumbnail needs IFD1")
	ifd1, _ := parseIFD(t, tiff, next)

	off := binary.LittleEndian.Uint32(entryValue(tiff, ifd1[tagJPEGOffset]))
	length := binary.LittleEndian.Uint32(entryValue(tiff, ifd1[tagJPEGLength]))
	require.Equal(t, uint32(len(thumb)), length)
	assert.Equal(t, thumb, tiff[off:off+length])
}

func TestBuildFailsRatherThanTruncates(t *testing.T) {
	huge := make([]byte, MaxPayload+1)
	_, err := NewBuilder().SetThumbnail(huge).Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, unix.EINVAL))
}

func TestBuildEmptyIsError(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.True(t, errors.Is(err, unix.EINVAL))
}
