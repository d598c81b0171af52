package fitfile

import (
	"bytes"
	"encoding/binary"

	"github.com/tormoder/fit/dyncrc16"
)

// Low-level FIT protocol writer: definition records, little-endian data
// records, and the 14-byte header + trailing CRC-16 assembled at finalize.

type baseType uint8

const (
	baseEnum    baseType = 0x00
	baseSint8   baseType = 0x01
	baseUint8   baseType = 0x02
	baseSint16  baseType = 0x83
	baseUint16  baseType = 0x84
	baseSint32  baseType = 0x85
	baseUint32  baseType = 0x86
	baseUint32z baseType = 0x8C
)

func (b baseType) size() int {
	switch b {
	case baseEnum, baseSint8, baseUint8:
		return 1
	case baseSint16, baseUint16:
		return 2
	case baseSint32, baseUint32, baseUint32z:
		return 4
	default:
		panic("fitfile: unknown base type")
	}
}

// invalid returns the profile's "no value" sentinel for the base type.
func (b baseType) invalid() uint32 {
	switch b {
	case baseEnum, baseUint8:
		return 0xFF
	case baseSint8:
		return 0x7F
	case baseUint16:
		return 0xFFFF
	case baseSint16:
		return 0x7FFF
	case baseUint32:
		return 0xFFFFFFFF
	case baseSint32:
		return 0x7FFFFFFF
	case baseUint32z:
		return 0
	default:
		panic("fitfile: unknown base type")
	}
}

type fieldDef struct {
	num  uint8
	base baseType
}

type msgDef struct {
	global uint16
	local  uint8
	fields []fieldDef
}

const (
	headerSize      = 14
	protocolVersion = 0x10 // 1.0
	profileVersion  = 2132

	definitionFlag   = 0x40
	archLittleEndian = 0x00
)

// fieldVal is one encoded field value. Absent optional fields carry the base
// type's invalid sentinel.
type fieldVal struct {
	raw     uint32
	present bool
}

func fv(raw uint32) fieldVal            { return fieldVal{raw: raw, present: true} }
func fvSigned(raw int32) fieldVal       { return fieldVal{raw: uint32(raw), present: true} }
func fvAbsent() fieldVal                { return fieldVal{} }

// protoWriter accumulates the data-record section in memory. A definition
// record is emitted once per local message number, ahead of its first data
// record.
type protoWriter struct {
	buf     bytes.Buffer
	defined map[uint8]bool
}

func newProtoWriter() *protoWriter {
	return &protoWriter{defined: make(map[uint8]bool)}
}

// writeMessage appends the data record for def, preceded by its definition
// record if this local number has not been defined yet. vals must match
// def.fields ordinally.
func (w *protoWriter) writeMessage(def msgDef, vals []fieldVal) {
	if len(vals) != len(def.fields) {
		panic("fitfile: field value count mismatch")
	}
	if !w.defined[def.local] {
		w.writeDefinition(def)
		w.defined[def.local] = true
	}

	w.buf.WriteByte(def.local) // normal data message header
	for i, f := range def.fields {
		v := vals[i].raw
		if !vals[i].present {
			v = f.base.invalid()
		}
		switch f.base.size() {
		case 1:
			w.buf.WriteByte(byte(v))
		case 2:
			var tmp [2]byte
			binary.LittleEndian.PutUint16(tmp[:], uint16(v))
			w.buf.Write(tmp[:])
		case 4:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], v)
			w.buf.Write(tmp[:])
		}
	}
}

func (w *protoWriter) writeDefinition(def msgDef) {
	w.buf.WriteByte(definitionFlag | def.local)
	w.buf.WriteByte(0) // reserved
	w.buf.WriteByte(archLittleEndian)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], def.global)
	w.buf.Write(tmp[:])
	w.buf.WriteByte(byte(len(def.fields)))
	for _, f := range def.fields {
		w.buf.WriteByte(f.num)
		w.buf.WriteByte(byte(f.base.size()))
		w.buf.WriteByte(byte(f.base))
	}
}

// bytes assembles the complete file: header (with its own CRC), data section
// and trailing file CRC.
func (w *protoWriter) bytes() []byte {
	data := w.buf.Bytes()

	out := make([]byte, 0, headerSize+len(data)+2)
	header := make([]byte, headerSize)
	header[0] = headerSize
	header[1] = protocolVersion
	binary.LittleEndian.PutUint16(header[2:4], profileVersion)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	copy(header[8:12], ".FIT")
	binary.LittleEndian.PutUint16(header[12:14], dyncrc16.Checksum(header[:12]))

	out = append(out, header...)
	out = append(out, data...)

	fileCRC := dyncrc16.Checksum(out)
	var crc [2]byte
	binary.LittleEndian.PutUint16(crc[:], fileCRC)
	return append(out, crc[:]...)
}
