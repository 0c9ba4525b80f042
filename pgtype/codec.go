package pgtype

import (
	"encoding/binary"
	"math"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// pgEpoch is the server's time epoch: 2000-01-01 00:00:00 UTC. Dates are
// days since it, timestamps are microseconds since it.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	microsPerSecond = 1_000_000
	secondsPerDay   = 86_400
)

// Address families in the inet/cidr wire format.
const (
	inetFamilyIPv4 byte = 2
	inetFamilyIPv6 byte = 3
)

// Encode serializes a Value into its type OID and binary wire bytes. A null
// value encodes to its declared OID and nil bytes; the caller writes the -1
// length marker. Arrays and composites recurse through Encode per element.
func Encode(v Value) (uint32, []byte, error) {
	switch v.kind {
	case KindNull:
		return v.oid, nil, nil

	case KindBool:
		b, _ := v.Bool()
		if b {
			return OIDBool, []byte{1}, nil
		}
		return OIDBool, []byte{0}, nil

	case KindInt2:
		n, _ := v.Int()
		return OIDInt2, binary.BigEndian.AppendUint16(nil, uint16(int16(n))), nil
	case KindInt4:
		n, _ := v.Int()
		return OIDInt4, binary.BigEndian.AppendUint32(nil, uint32(int32(n))), nil
	case KindInt8:
		n, _ := v.Int()
		return OIDInt8, binary.BigEndian.AppendUint64(nil, uint64(n)), nil

	case KindFloat4:
		f, _ := v.Float()
		return OIDFloat4, binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case KindFloat8:
		f, _ := v.Float()
		return OIDFloat8, binary.BigEndian.AppendUint64(nil, math.Float64bits(f)), nil

	case KindNumeric:
		d, _ := v.Decimal()
		return OIDNumeric, encodeNumeric(d), nil

	case KindText:
		s, _ := v.Str()
		return OIDText, []byte(s), nil
	case KindVarchar:
		s, _ := v.Str()
		return OIDVarchar, []byte(s), nil
	case KindBytea:
		b, _ := v.Bytes()
		return OIDBytea, b, nil

	case KindDate:
		t, _ := v.Time()
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		days := int32(midnight.Unix()-pgEpoch.Unix()) / secondsPerDay
		return OIDDate, binary.BigEndian.AppendUint32(nil, uint32(days)), nil

	case KindTime:
		d, _ := v.TimeOfDay()
		if d < 0 || d >= 24*time.Hour {
			return 0, nil, &EncodingValidationError{Kind: KindTime, Message: "time of day outside [0h, 24h)"}
		}
		return OIDTime, binary.BigEndian.AppendUint64(nil, uint64(d.Microseconds())), nil

	case KindTimeTZ:
		t, _ := v.TimeOfDayTZ()
		buf := binary.BigEndian.AppendUint64(nil, uint64(t.Microseconds))
		return OIDTimeTZ, binary.BigEndian.AppendUint32(buf, uint32(t.OffsetSecondsWest)), nil

	case KindTimestamp:
		t, _ := v.Time()
		// Without-zone timestamps carry the wall-clock reading; re-read the
		// components as if they were UTC.
		wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
		micros := wall.Sub(pgEpoch).Microseconds()
		return OIDTimestamp, binary.BigEndian.AppendUint64(nil, uint64(micros)), nil

	case KindTimestampTZ:
		t, _ := v.Time()
		micros := t.Sub(pgEpoch).Microseconds()
		return OIDTimestampTZ, binary.BigEndian.AppendUint64(nil, uint64(micros)), nil

	case KindInterval:
		iv, _ := v.Interval()
		buf := binary.BigEndian.AppendUint64(nil, uint64(iv.Microseconds))
		buf = binary.BigEndian.AppendUint32(buf, uint32(iv.Days))
		return OIDInterval, binary.BigEndian.AppendUint32(buf, uint32(iv.Months)), nil

	case KindUUID:
		u, _ := v.UUID()
		b := make([]byte, 16)
		copy(b, u[:])
		return OIDUUID, b, nil

	case KindJSON:
		b, _ := v.Bytes()
		return OIDJSON, b, nil
	case KindJSONB:
		b, _ := v.Bytes()
		return OIDJSONB, append([]byte{1}, b...), nil

	case KindInet:
		p, _ := v.Prefix()
		return OIDInet, encodeInetPrefix(p, false), nil
	case KindCIDR:
		p, _ := v.Prefix()
		return OIDCIDR, encodeInetPrefix(p, true), nil

	case KindMacaddr:
		hw, _ := v.HardwareAddr()
		if len(hw) != 6 {
			return 0, nil, &EncodingValidationError{Kind: KindMacaddr, Message: "macaddr requires exactly 6 bytes"}
		}
		return OIDMacaddr, append([]byte(nil), hw...), nil
	case KindMacaddr8:
		hw, _ := v.HardwareAddr()
		if len(hw) != 8 {
			return 0, nil, &EncodingValidationError{Kind: KindMacaddr8, Message: "macaddr8 requires exactly 8 bytes"}
		}
		return OIDMacaddr8, append([]byte(nil), hw...), nil

	case KindMoney:
		n, _ := v.Int()
		return OIDMoney, binary.BigEndian.AppendUint64(nil, uint64(n)), nil

	case KindPoint, KindLine, KindLseg, KindBox, KindPath, KindPolygon, KindCircle:
		return encodeGeometry(v)

	case KindVector:
		floats, _ := v.Vector()
		if len(floats) > math.MaxInt16 {
			return 0, nil, &EncodingValidationError{Kind: KindVector, Message: "vector dimension exceeds int16"}
		}
		buf := binary.BigEndian.AppendUint16(nil, uint16(len(floats)))
		buf = binary.BigEndian.AppendUint16(buf, 0)
		for _, f := range floats {
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
		}
		return OIDVector, buf, nil

	case KindArray:
		return encodeArray(v)
	case KindComposite:
		return encodeComposite(v)

	default:
		return 0, nil, &EncodingValidationError{Kind: v.kind, Message: "unknown value kind"}
	}
}

// Decode deserializes wire bytes of the given type OID into a Value. Nil
// data (the -1 wire length) decodes to an explicit null of that OID. The
// catalog is consulted only for composite types; nil is valid otherwise.
func Decode(cat *Catalog, oid uint32, data []byte) (Value, error) {
	if data == nil {
		return Null(oid), nil
	}

	switch oid {
	case OIDBool:
		if len(data) != 1 {
			return Value{}, errDecodeLength(oid, "1 byte", len(data))
		}
		return Bool(data[0] != 0), nil

	case OIDInt2:
		if len(data) != 2 {
			return Value{}, errDecodeLength(oid, "2 bytes", len(data))
		}
		return Int2(int16(binary.BigEndian.Uint16(data))), nil
	case OIDInt4:
		if len(data) != 4 {
			return Value{}, errDecodeLength(oid, "4 bytes", len(data))
		}
		return Int4(int32(binary.BigEndian.Uint32(data))), nil
	case OIDInt8:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		return Int8(int64(binary.BigEndian.Uint64(data))), nil

	case OIDFloat4:
		if len(data) != 4 {
			return Value{}, errDecodeLength(oid, "4 bytes", len(data))
		}
		return Float4(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
	case OIDFloat8:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		return Float8(math.Float64frombits(binary.BigEndian.Uint64(data))), nil

	case OIDNumeric:
		return decodeNumeric(data)

	case OIDText:
		return Text(string(data)), nil
	case OIDVarchar:
		return Varchar(string(data)), nil
	case OIDBytea:
		return Bytea(append([]byte(nil), data...)), nil

	case OIDDate:
		if len(data) != 4 {
			return Value{}, errDecodeLength(oid, "4 bytes", len(data))
		}
		days := int32(binary.BigEndian.Uint32(data))
		return Date(pgEpoch.AddDate(0, 0, int(days))), nil

	case OIDTime:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return TimeOfDay(time.Duration(micros) * time.Microsecond), nil

	case OIDTimeTZ:
		if len(data) != 12 {
			return Value{}, errDecodeLength(oid, "12 bytes", len(data))
		}
		return TimeOfDayWithZone(TimeOfDayTZ{
			Microseconds:      int64(binary.BigEndian.Uint64(data)),
			OffsetSecondsWest: int32(binary.BigEndian.Uint32(data[8:])),
		}), nil

	case OIDTimestamp:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return Timestamp(pgEpoch.Add(time.Duration(micros) * time.Microsecond)), nil

	case OIDTimestampTZ:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		micros := int64(binary.BigEndian.Uint64(data))
		return TimestampTZ(pgEpoch.Add(time.Duration(micros) * time.Microsecond)), nil

	case OIDInterval:
		if len(data) != 16 {
			return Value{}, errDecodeLength(oid, "16 bytes", len(data))
		}
		return IntervalValue(Interval{
			Microseconds: int64(binary.BigEndian.Uint64(data)),
			Days:         int32(binary.BigEndian.Uint32(data[8:])),
			Months:       int32(binary.BigEndian.Uint32(data[12:])),
		}), nil

	case OIDUUID:
		if len(data) != 16 {
			return Value{}, errDecodeLength(oid, "16 bytes", len(data))
		}
		var u uuid.UUID
		copy(u[:], data)
		return UUID(u), nil

	case OIDJSON:
		return JSON(append([]byte(nil), data...)), nil
	case OIDJSONB:
		if len(data) < 1 || data[0] != 1 {
			return Value{}, &DecodeMismatchError{OID: oid, Message: "missing jsonb version byte", Length: len(data)}
		}
		return JSONB(append([]byte(nil), data[1:]...)), nil

	case OIDInet, OIDCIDR:
		return decodeInetPrefix(oid, data)

	case OIDMacaddr:
		if len(data) != 6 {
			return Value{}, errDecodeLength(oid, "6 bytes", len(data))
		}
		return Macaddr(net.HardwareAddr(append([]byte(nil), data...))), nil
	case OIDMacaddr8:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		return Macaddr8(net.HardwareAddr(append([]byte(nil), data...))), nil

	case OIDMoney:
		if len(data) != 8 {
			return Value{}, errDecodeLength(oid, "8 bytes", len(data))
		}
		return Money(int64(binary.BigEndian.Uint64(data))), nil

	case OIDPoint, OIDLine, OIDLseg, OIDBox, OIDPath, OIDPolygon, OIDCircle:
		return decodeGeometry(oid, data)

	case OIDVector:
		return decodeVector(oid, data)
	}

	if _, ok := ElementOID(oid); ok {
		return decodeArray(cat, oid, data)
	}
	if cat != nil {
		if oid == cat.VectorOID() {
			return decodeVector(oid, data)
		}
		if schema, ok := cat.Lookup(oid); ok {
			return decodeComposite(cat, oid, schema, data)
		}
		if elem, ok := cat.LookupArrayElement(oid); ok {
			return decodeRegisteredArray(cat, oid, elem, data)
		}
	}
	return Value{}, &UnsupportedTypeError{OID: oid}
}

func decodeVector(oid uint32, data []byte) (Value, error) {
	if len(data) < 4 {
		return Value{}, errDecodeLength(oid, "at least 4 bytes", len(data))
	}
	dim := int(binary.BigEndian.Uint16(data))
	if len(data) != 4+dim*4 {
		return Value{}, &DecodeMismatchError{OID: oid, Message: "length inconsistent with declared dimension", Length: len(data)}
	}
	floats := make([]float32, dim)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.BigEndian.Uint32(data[4+i*4:]))
	}
	return Vector(floats), nil
}

func encodeInetPrefix(p netip.Prefix, isCIDR bool) []byte {
	addr := p.Addr()
	family := inetFamilyIPv4
	if addr.Is6() && !addr.Is4In6() {
		family = inetFamilyIPv6
	}
	raw := addr.Unmap().AsSlice()

	cidrFlag := byte(0)
	if isCIDR {
		cidrFlag = 1
	}
	buf := []byte{family, byte(p.Bits()), cidrFlag, byte(len(raw))}
	return append(buf, raw...)
}

func decodeInetPrefix(oid uint32, data []byte) (Value, error) {
	if len(data) < 4 {
		return Value{}, errDecodeLength(oid, "at least 4 bytes", len(data))
	}
	bits := int(data[1])
	addrLen := int(data[3])
	if len(data) != 4+addrLen || (addrLen != 4 && addrLen != 16) {
		return Value{}, &DecodeMismatchError{OID: oid, Message: "address length inconsistent with family", Length: len(data)}
	}
	addr, ok := netip.AddrFromSlice(data[4:])
	if !ok {
		return Value{}, &DecodeMismatchError{OID: oid, Message: "invalid address bytes", Length: len(data)}
	}
	if bits > addr.BitLen() {
		return Value{}, &DecodeMismatchError{OID: oid, Message: "prefix bits exceed address length", Length: len(data)}
	}
	prefix := netip.PrefixFrom(addr, bits)
	if oid == OIDCIDR {
		return CIDR(prefix), nil
	}
	return Inet(prefix), nil
}
