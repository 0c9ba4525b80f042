package pgtype

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	oid, data, err := Encode(v)
	require.NoError(t, err)
	decoded, err := Decode(nil, oid, data)
	require.NoError(t, err)
	return decoded
}

func TestScalarRoundTrips(t *testing.T) {
	mac, err := net.ParseMAC("08:00:2b:01:02:03")
	require.NoError(t, err)
	mac8, err := net.ParseMAC("08:00:2b:01:02:03:04:05")
	require.NoError(t, err)

	values := []Value{
		Bool(true),
		Bool(false),
		Int2(-32768),
		Int4(2_000_000_000),
		Int8(-9_007_199_254_740_993),
		Float4(3.5),
		Float8(-2.718281828459045),
		Text("hello, wire"),
		Varchar(""),
		Bytea([]byte{0x00, 0xFF, 0x10}),
		TimeOfDay(13*time.Hour + 37*time.Minute + 11*time.Second),
		TimeOfDayWithZone(TimeOfDayTZ{Microseconds: 3_600_000_000, OffsetSecondsWest: -7200}),
		IntervalValue(Interval{Months: 14, Days: -3, Microseconds: 61_000_000}),
		UUID(uuid.MustParse("a81bc81b-dead-4e5d-abff-90865d1e13b1")),
		JSON([]byte(`{"a":1}`)),
		JSONB([]byte(`{"b":[true,null]}`)),
		Inet(netip.MustParsePrefix("192.168.10.5/24")),
		Inet(netip.MustParsePrefix("2001:db8::1/64")),
		CIDR(netip.MustParsePrefix("10.0.0.0/8")),
		Macaddr(mac),
		Macaddr8(mac8),
		Money(-123456),
		PointValue(Point{X: 1.5, Y: -2.5}),
		LineValue(Line{A: 1, B: -1, C: 0.5}),
		LsegValue(Lseg{P0: Point{0, 0}, P1: Point{3, 4}}),
		BoxValue(Box{High: Point{2, 2}, Low: Point{-1, -1}}),
		Path(PathValue{Closed: true, Points: []Point{{0, 0}, {1, 1}, {2, 0}}}),
		Polygon(PolygonValue{Points: []Point{{0, 0}, {0, 1}, {1, 1}}}),
		CircleValue(Circle{Center: Point{1, 1}, Radius: 2.5}),
		Vector([]float32{0.25, -1.5, 3}),
	}

	for _, v := range values {
		t.Run(v.Kind().String(), func(t *testing.T) {
			decoded := roundTrip(t, v)
			assert.True(t, v.Equal(decoded), "want %v, got %v", v, decoded)
		})
	}
}

func TestTemporalRoundTrips(t *testing.T) {
	date := Date(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	assert.True(t, date.Equal(roundTrip(t, date)))

	preEpoch := Date(time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.True(t, preEpoch.Equal(roundTrip(t, preEpoch)))

	ts := Timestamp(time.Date(2024, 6, 1, 12, 30, 45, 123456000, time.UTC))
	assert.True(t, ts.Equal(roundTrip(t, ts)))

	tstz := TimestampTZ(time.Date(1969, 7, 20, 20, 17, 40, 0, time.UTC))
	assert.True(t, tstz.Equal(roundTrip(t, tstz)))
}

func TestTimestampWithoutZoneKeepsWallClock(t *testing.T) {
	loc := time.FixedZone("east", 3*3600)
	in := Timestamp(time.Date(2024, 1, 2, 15, 4, 5, 0, loc))

	decoded := roundTrip(t, in)
	got, ok := decoded.Time()
	require.True(t, ok)
	// The wall-clock reading survives; the zone does not.
	assert.Equal(t, 15, got.Hour())
	assert.Equal(t, time.UTC, got.Location())
}

func TestNullRoundTrip(t *testing.T) {
	oid, data, err := Encode(Null(OIDInt4))
	require.NoError(t, err)
	assert.Equal(t, OIDInt4, oid)
	assert.Nil(t, data)

	decoded, err := Decode(nil, OIDInt4, nil)
	require.NoError(t, err)
	assert.True(t, decoded.IsNull())
	assert.Equal(t, OIDInt4, decoded.TypeOID())
}

func TestJSONBVersionByte(t *testing.T) {
	_, data, err := Encode(JSONB([]byte(`{}`)))
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, byte(1), data[0])

	_, err = Decode(nil, OIDJSONB, []byte{9, '{', '}'})
	var mismatch *DecodeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestDecodeLengthMismatch(t *testing.T) {
	_, err := Decode(nil, OIDInt4, []byte{0, 0, 1})
	var mismatch *DecodeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, OIDInt4, mismatch.OID)
}

func TestDecodeUnsupportedOID(t *testing.T) {
	_, err := Decode(nil, 99999, []byte{0})
	var unsupported *UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint32(99999), unsupported.OID)
}

func TestIntOfWidth(t *testing.T) {
	v, err := IntOfWidth(OIDInt2, 1000)
	require.NoError(t, err)
	assert.Equal(t, KindInt2, v.Kind())

	_, err = IntOfWidth(OIDInt2, 40000)
	var ev *EncodingValidationError
	assert.ErrorAs(t, err, &ev)

	_, err = IntOfWidth(OIDInt4, int64(1)<<40)
	assert.ErrorAs(t, err, &ev)

	_, err = IntOfWidth(OIDText, 1)
	var unsupported *UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}

func TestTimeOfDayBounds(t *testing.T) {
	_, _, err := Encode(TimeOfDay(24 * time.Hour))
	var ev *EncodingValidationError
	require.ErrorAs(t, err, &ev)
	assert.Equal(t, KindTime, ev.Kind)

	_, _, err = Encode(TimeOfDay(-time.Second))
	assert.ErrorAs(t, err, &ev)
}

func TestInetWireFormat(t *testing.T) {
	_, data, err := Encode(CIDR(netip.MustParsePrefix("10.0.0.0/8")))
	require.NoError(t, err)
	require.Len(t, data, 8)
	assert.Equal(t, byte(2), data[0]) // IPv4 family
	assert.Equal(t, byte(8), data[1])
	assert.Equal(t, byte(1), data[2]) // cidr flag
	assert.Equal(t, byte(4), data[3])
}

func TestInetPrefixBitsValidation(t *testing.T) {
	// IPv4 address with a prefix length only valid for IPv6.
	data := []byte{2, 200, 0, 4, 10, 0, 0, 1}
	_, err := Decode(nil, OIDInet, data)
	var mismatch *DecodeMismatchError
	require.ErrorAs(t, err, &mismatch)

	data[1] = 32
	v, err := Decode(nil, OIDInet, data)
	require.NoError(t, err)
	p, ok := v.Prefix()
	require.True(t, ok)
	assert.True(t, p.IsValid())
}

func TestVectorCatalogOverride(t *testing.T) {
	cat := NewCatalog()
	cat.RegisterVector(17001)

	_, data, err := Encode(Vector([]float32{1, 2, 3}))
	require.NoError(t, err)

	decoded, err := Decode(cat, 17001, data)
	require.NoError(t, err)
	floats, ok := decoded.Vector()
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, floats)
}

func TestVectorDimensionMismatch(t *testing.T) {
	_, data, err := Encode(Vector([]float32{1, 2}))
	require.NoError(t, err)

	_, err = Decode(nil, OIDVector, data[:len(data)-2])
	var mismatch *DecodeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestNumericRoundTrips(t *testing.T) {
	for _, s := range []string{
		"0", "1", "-1", "1.5", "-1234.5678", "0.0001",
		"10000", "99999999.9999", "123456789012345678.90",
		"-0.5", "3.14159265358979",
	} {
		t.Run(s, func(t *testing.T) {
			d, err := decimal.NewFromString(s)
			require.NoError(t, err)
			decoded := roundTrip(t, Numeric(d))
			got, ok := decoded.Decimal()
			require.True(t, ok)
			assert.True(t, d.Equal(got), "want %s, got %s", d, got)
		})
	}
}

func TestNumericNaNRejected(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0xC0, 0x00, 0, 0}
	_, err := decodeNumeric(data)
	var mismatch *DecodeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestMacaddrLengthValidation(t *testing.T) {
	_, _, err := Encode(Macaddr(net.HardwareAddr{1, 2, 3}))
	var ev *EncodingValidationError
	require.ErrorAs(t, err, &ev)
	assert.Equal(t, KindMacaddr, ev.Kind)
}

func TestGeometryValidation(t *testing.T) {
	_, _, err := Encode(LineValue(Line{A: 0, B: 0, C: 1}))
	var ev *EncodingValidationError
	assert.ErrorAs(t, err, &ev)

	_, _, err = Encode(Polygon(PolygonValue{}))
	assert.ErrorAs(t, err, &ev)

	_, _, err = Encode(CircleValue(Circle{Center: Point{0, 0}, Radius: -1}))
	assert.ErrorAs(t, err, &ev)
}
