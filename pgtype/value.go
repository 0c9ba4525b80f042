// Package pgtype translates between Go values and the server's binary wire
// representation. Every Value carries an explicit kind, so integer and float
// widths are always chosen by the caller, never inferred.
package pgtype

import (
	"bytes"
	"math"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the wire type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt2
	KindInt4
	KindInt8
	KindFloat4
	KindFloat8
	KindNumeric
	KindText
	KindVarchar
	KindBytea
	KindDate
	KindTime
	KindTimeTZ
	KindTimestamp
	KindTimestampTZ
	KindInterval
	KindUUID
	KindJSON
	KindJSONB
	KindInet
	KindCIDR
	KindMacaddr
	KindMacaddr8
	KindMoney
	KindPoint
	KindLine
	KindLseg
	KindBox
	KindPath
	KindPolygon
	KindCircle
	KindVector
	KindArray
	KindComposite
)

var kindNames = map[Kind]string{
	KindNull: "null", KindBool: "bool", KindInt2: "int2", KindInt4: "int4",
	KindInt8: "int8", KindFloat4: "float4", KindFloat8: "float8",
	KindNumeric: "numeric", KindText: "text", KindVarchar: "varchar",
	KindBytea: "bytea", KindDate: "date", KindTime: "time", KindTimeTZ: "timetz",
	KindTimestamp: "timestamp", KindTimestampTZ: "timestamptz",
	KindInterval: "interval", KindUUID: "uuid", KindJSON: "json",
	KindJSONB: "jsonb", KindInet: "inet", KindCIDR: "cidr",
	KindMacaddr: "macaddr", KindMacaddr8: "macaddr8", KindMoney: "money",
	KindPoint: "point", KindLine: "line", KindLseg: "lseg", KindBox: "box",
	KindPath: "path", KindPolygon: "polygon", KindCircle: "circle",
	KindVector: "vector", KindArray: "array", KindComposite: "composite",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Interval is the wire decomposition of an interval: months and days are
// kept separate from the sub-day microsecond part, as the server stores them.
type Interval struct {
	Months       int32
	Days         int32
	Microseconds int64
}

// TimeOfDayTZ is a time-of-day with a UTC offset, in the server's
// representation (offset counts seconds west of UTC).
type TimeOfDayTZ struct {
	Microseconds      int64
	OffsetSecondsWest int32
}

// Geometric primitives.
type (
	Point struct{ X, Y float64 }
	// Line is the infinite line Ax + By + C = 0.
	Line   struct{ A, B, C float64 }
	Lseg   struct{ P0, P1 Point }
	Box    struct{ High, Low Point }
	Circle struct {
		Center Point
		Radius float64
	}
	PathValue struct {
		Closed bool
		Points []Point
	}
	PolygonValue struct{ Points []Point }
)

// CompositeField is one named field of a composite value.
type CompositeField struct {
	Name  string
	Value Value
}

// Value is a tagged union over every wire type the codec supports. The zero
// Value is a null of unknown type.
type Value struct {
	kind Kind
	// oid carries the explicit type tag where the kind alone is ambiguous:
	// the declared type of a null, the element type of an array, and the
	// catalog type of a composite.
	oid uint32
	v   any
}

// Kind returns the value's wire kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is an explicit null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Constructors. Widths are part of the constructor name so a caller can
// never hand the codec an ambiguous number.

func Null(oid uint32) Value        { return Value{kind: KindNull, oid: oid} }
func Bool(b bool) Value            { return Value{kind: KindBool, v: b} }
func Int2(n int16) Value           { return Value{kind: KindInt2, v: int64(n)} }
func Int4(n int32) Value           { return Value{kind: KindInt4, v: int64(n)} }
func Int8(n int64) Value           { return Value{kind: KindInt8, v: n} }
func Float4(f float32) Value       { return Value{kind: KindFloat4, v: float64(f)} }
func Float8(f float64) Value       { return Value{kind: KindFloat8, v: f} }
func Numeric(d decimal.Decimal) Value { return Value{kind: KindNumeric, v: d} }
func Text(s string) Value          { return Value{kind: KindText, v: s} }
func Varchar(s string) Value       { return Value{kind: KindVarchar, v: s} }
func Bytea(b []byte) Value         { return Value{kind: KindBytea, v: b} }
func Date(t time.Time) Value       { return Value{kind: KindDate, v: t} }
func Timestamp(t time.Time) Value  { return Value{kind: KindTimestamp, v: t} }
func TimestampTZ(t time.Time) Value {
	return Value{kind: KindTimestampTZ, v: t}
}
func TimeOfDay(sinceMidnight time.Duration) Value {
	return Value{kind: KindTime, v: sinceMidnight}
}
func TimeOfDayWithZone(t TimeOfDayTZ) Value { return Value{kind: KindTimeTZ, v: t} }
func IntervalValue(iv Interval) Value       { return Value{kind: KindInterval, v: iv} }
func UUID(u uuid.UUID) Value                { return Value{kind: KindUUID, v: u} }
func JSON(raw []byte) Value                 { return Value{kind: KindJSON, v: raw} }
func JSONB(raw []byte) Value                { return Value{kind: KindJSONB, v: raw} }
func Inet(p netip.Prefix) Value             { return Value{kind: KindInet, v: p} }
func CIDR(p netip.Prefix) Value             { return Value{kind: KindCIDR, v: p} }
func Macaddr(hw net.HardwareAddr) Value     { return Value{kind: KindMacaddr, v: hw} }
func Macaddr8(hw net.HardwareAddr) Value    { return Value{kind: KindMacaddr8, v: hw} }

// Money carries the amount in the currency's minor unit (cents).
func Money(minorUnits int64) Value { return Value{kind: KindMoney, v: minorUnits} }

func PointValue(p Point) Value       { return Value{kind: KindPoint, v: p} }
func LineValue(l Line) Value         { return Value{kind: KindLine, v: l} }
func LsegValue(l Lseg) Value         { return Value{kind: KindLseg, v: l} }
func BoxValue(b Box) Value           { return Value{kind: KindBox, v: b} }
func Path(p PathValue) Value         { return Value{kind: KindPath, v: p} }
func Polygon(p PolygonValue) Value   { return Value{kind: KindPolygon, v: p} }
func CircleValue(c Circle) Value     { return Value{kind: KindCircle, v: c} }
func Vector(floats []float32) Value  { return Value{kind: KindVector, v: floats} }

// Array builds a homogeneous array value. The element OID is mandatory: an
// empty array has no other way to declare its type, and a populated one is
// checked against it.
func Array(elemOID uint32, elems []Value) Value {
	return Value{kind: KindArray, oid: elemOID, v: elems}
}

// Composite builds a composite (row) value of the named catalog type.
func Composite(typeOID uint32, fields []CompositeField) Value {
	return Value{kind: KindComposite, oid: typeOID, v: fields}
}

// IntOfWidth builds an integer of the given type OID from an int64, failing
// with EncodingValidationError if the value does not fit. This is the
// checked path for callers holding untyped numbers.
func IntOfWidth(oid uint32, n int64) (Value, error) {
	switch oid {
	case OIDInt2:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return Value{}, &EncodingValidationError{Kind: KindInt2, Message: "value does not fit in 2 bytes"}
		}
		return Int2(int16(n)), nil
	case OIDInt4:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, &EncodingValidationError{Kind: KindInt4, Message: "value does not fit in 4 bytes"}
		}
		return Int4(int32(n)), nil
	case OIDInt8:
		return Int8(n), nil
	default:
		return Value{}, &UnsupportedTypeError{OID: oid}
	}
}

// Accessors. Each returns the payload for its kind and false for any other
// kind; a null yields false everywhere.

func (v Value) Bool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok && v.kind == KindBool
}

// Int returns the payload of any integer or money kind.
func (v Value) Int() (int64, bool) {
	n, ok := v.v.(int64)
	switch v.kind {
	case KindInt2, KindInt4, KindInt8, KindMoney:
		return n, ok
	}
	return 0, false
}

// Float returns the payload of either float kind.
func (v Value) Float() (float64, bool) {
	f, ok := v.v.(float64)
	switch v.kind {
	case KindFloat4, KindFloat8:
		return f, ok
	}
	return 0, false
}

func (v Value) Decimal() (decimal.Decimal, bool) {
	d, ok := v.v.(decimal.Decimal)
	return d, ok && v.kind == KindNumeric
}

// Str returns the payload of text-like kinds (text, varchar).
func (v Value) Str() (string, bool) {
	s, ok := v.v.(string)
	switch v.kind {
	case KindText, KindVarchar:
		return s, ok
	}
	return "", false
}

// Bytes returns the payload of bytea, json and jsonb kinds.
func (v Value) Bytes() ([]byte, bool) {
	b, ok := v.v.([]byte)
	switch v.kind {
	case KindBytea, KindJSON, KindJSONB:
		return b, ok
	}
	return nil, false
}

// Time returns the payload of date and timestamp kinds.
func (v Value) Time() (time.Time, bool) {
	t, ok := v.v.(time.Time)
	switch v.kind {
	case KindDate, KindTimestamp, KindTimestampTZ:
		return t, ok
	}
	return time.Time{}, false
}

func (v Value) TimeOfDay() (time.Duration, bool) {
	d, ok := v.v.(time.Duration)
	return d, ok && v.kind == KindTime
}

func (v Value) TimeOfDayTZ() (TimeOfDayTZ, bool) {
	t, ok := v.v.(TimeOfDayTZ)
	return t, ok && v.kind == KindTimeTZ
}

func (v Value) Interval() (Interval, bool) {
	iv, ok := v.v.(Interval)
	return iv, ok && v.kind == KindInterval
}

func (v Value) UUID() (uuid.UUID, bool) {
	u, ok := v.v.(uuid.UUID)
	return u, ok && v.kind == KindUUID
}

// Prefix returns the payload of inet and cidr kinds.
func (v Value) Prefix() (netip.Prefix, bool) {
	p, ok := v.v.(netip.Prefix)
	switch v.kind {
	case KindInet, KindCIDR:
		return p, ok
	}
	return netip.Prefix{}, false
}

// HardwareAddr returns the payload of macaddr and macaddr8 kinds.
func (v Value) HardwareAddr() (net.HardwareAddr, bool) {
	hw, ok := v.v.(net.HardwareAddr)
	switch v.kind {
	case KindMacaddr, KindMacaddr8:
		return hw, ok
	}
	return nil, false
}

func (v Value) Point() (Point, bool) {
	p, ok := v.v.(Point)
	return p, ok && v.kind == KindPoint
}

func (v Value) Line() (Line, bool) {
	l, ok := v.v.(Line)
	return l, ok && v.kind == KindLine
}

func (v Value) Lseg() (Lseg, bool) {
	l, ok := v.v.(Lseg)
	return l, ok && v.kind == KindLseg
}

func (v Value) Box() (Box, bool) {
	b, ok := v.v.(Box)
	return b, ok && v.kind == KindBox
}

func (v Value) Path() (PathValue, bool) {
	p, ok := v.v.(PathValue)
	return p, ok && v.kind == KindPath
}

func (v Value) Polygon() (PolygonValue, bool) {
	p, ok := v.v.(PolygonValue)
	return p, ok && v.kind == KindPolygon
}

func (v Value) Circle() (Circle, bool) {
	c, ok := v.v.(Circle)
	return c, ok && v.kind == KindCircle
}

func (v Value) Vector() ([]float32, bool) {
	f, ok := v.v.([]float32)
	return f, ok && v.kind == KindVector
}

// Elements returns an array's element OID and elements.
func (v Value) Elements() (uint32, []Value, bool) {
	elems, ok := v.v.([]Value)
	if !ok || v.kind != KindArray {
		return 0, nil, false
	}
	return v.oid, elems, true
}

// Fields returns a composite's type OID and named fields.
func (v Value) Fields() (uint32, []CompositeField, bool) {
	fields, ok := v.v.([]CompositeField)
	if !ok || v.kind != KindComposite {
		return 0, nil, false
	}
	return v.oid, fields, true
}

// TypeOID returns the explicit OID tag of null, array and composite values.
func (v Value) TypeOID() uint32 { return v.oid }

// Equal reports deep semantic equality. Timestamps compare as instants and
// decimals by numeric value, so a decoded Value compares equal to the Value
// it was encoded from.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return v.oid == o.oid
	case KindNumeric:
		a, _ := v.Decimal()
		b, _ := o.Decimal()
		return a.Equal(b)
	case KindBytea, KindJSON, KindJSONB:
		a, _ := v.Bytes()
		b, _ := o.Bytes()
		return bytes.Equal(a, b)
	case KindDate, KindTimestamp, KindTimestampTZ:
		a, _ := v.Time()
		b, _ := o.Time()
		return a.Equal(b)
	case KindMacaddr, KindMacaddr8:
		a, _ := v.HardwareAddr()
		b, _ := o.HardwareAddr()
		return bytes.Equal(a, b)
	case KindVector:
		a, _ := v.Vector()
		b, _ := o.Vector()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	case KindPath:
		a, _ := v.Path()
		b, _ := o.Path()
		return a.Closed == b.Closed && pointsEqual(a.Points, b.Points)
	case KindPolygon:
		a, _ := v.Polygon()
		b, _ := o.Polygon()
		return pointsEqual(a.Points, b.Points)
	case KindArray:
		aOID, aElems, _ := v.Elements()
		bOID, bElems, _ := o.Elements()
		if aOID != bOID || len(aElems) != len(bElems) {
			return false
		}
		for i := range aElems {
			if !aElems[i].Equal(bElems[i]) {
				return false
			}
		}
		return true
	case KindComposite:
		aOID, aFields, _ := v.Fields()
		bOID, bFields, _ := o.Fields()
		if aOID != bOID || len(aFields) != len(bFields) {
			return false
		}
		for i := range aFields {
			if aFields[i].Name != bFields[i].Name || !aFields[i].Value.Equal(bFields[i].Value) {
				return false
			}
		}
		return true
	default:
		return v.v == o.v
	}
}

func pointsEqual(a, b []Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
