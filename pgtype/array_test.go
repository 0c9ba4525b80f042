package pgtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayRoundTrip(t *testing.T) {
	in := Array(OIDInt4, []Value{Int4(1), Int4(-2), Int4(3)})

	oid, data, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, OIDInt4Array, oid)

	decoded, err := Decode(nil, oid, data)
	require.NoError(t, err)
	assert.True(t, in.Equal(decoded))
}

func TestArrayWithNullElement(t *testing.T) {
	in := Array(OIDText, []Value{Text("a"), Null(OIDText), Text("c")})

	decoded := roundTrip(t, in)
	_, elems, ok := decoded.Elements()
	require.True(t, ok)
	require.Len(t, elems, 3)
	assert.True(t, elems[1].IsNull())
	assert.True(t, in.Equal(decoded))
}

func TestEmptyArrayWireFormat(t *testing.T) {
	in := Array(OIDInt8, nil)

	oid, data, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, OIDInt8Array, oid)
	// Zero dimensions, no per-dimension header.
	require.Len(t, data, 12)
	assert.Equal(t, []byte{0, 0, 0, 0}, data[:4])

	decoded, err := Decode(nil, oid, data)
	require.NoError(t, err)
	elemOID, elems, ok := decoded.Elements()
	require.True(t, ok)
	assert.Equal(t, OIDInt8, elemOID)
	assert.Empty(t, elems)
}

func TestArrayRequiresElementOID(t *testing.T) {
	_, _, err := Encode(Array(0, nil))
	var ev *EncodingValidationError
	require.ErrorAs(t, err, &ev)
	assert.Equal(t, KindArray, ev.Kind)
}

func TestArrayRejectsMixedElements(t *testing.T) {
	_, _, err := Encode(Array(OIDInt4, []Value{Int4(1), Text("no")}))
	var ev *EncodingValidationError
	assert.ErrorAs(t, err, &ev)
}

func TestNestedArrayRejectedOnDecode(t *testing.T) {
	// Hand-built two-dimensional header.
	data := []byte{
		0, 0, 0, 2, // ndim
		0, 0, 0, 0, // hasnull
		0, 0, 0, 23, // int4
		0, 0, 0, 1, 0, 0, 0, 1,
		0, 0, 0, 1, 0, 0, 0, 1,
	}
	_, err := Decode(nil, OIDInt4Array, data)
	var mismatch *DecodeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestCompositeRoundTrip(t *testing.T) {
	const orderOID = uint32(24000)
	cat := NewCatalog()
	cat.Register(orderOID, CompositeSchema{
		Name: "order_line",
		Fields: []FieldSchema{
			{Name: "id", OID: OIDInt8},
			{Name: "label", OID: OIDText},
			{Name: "qty", OID: OIDInt4},
		},
	})

	in := Composite(orderOID, []CompositeField{
		{Name: "id", Value: Int8(42)},
		{Name: "label", Value: Text("widget")},
		{Name: "qty", Value: Null(OIDInt4)},
	})

	oid, data, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, orderOID, oid)

	decoded, err := Decode(cat, orderOID, data)
	require.NoError(t, err)
	assert.True(t, in.Equal(decoded))
}

func TestCompositeSchemaMismatch(t *testing.T) {
	const oid = uint32(24001)
	cat := NewCatalog()
	cat.Register(oid, CompositeSchema{
		Name:   "pair",
		Fields: []FieldSchema{{Name: "a", OID: OIDInt4}, {Name: "b", OID: OIDInt4}},
	})

	_, data, err := Encode(Composite(oid, []CompositeField{{Name: "a", Value: Int4(1)}}))
	require.NoError(t, err)

	_, err = Decode(cat, oid, data)
	var mismatch *DecodeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestRegisteredCompositeArray(t *testing.T) {
	const elemOID = uint32(24002)
	const arrayOID = uint32(24003)
	cat := NewCatalog()
	cat.Register(elemOID, CompositeSchema{
		Name:   "tag",
		Fields: []FieldSchema{{Name: "name", OID: OIDText}},
	})
	cat.RegisterArray(arrayOID, elemOID)

	elem := Composite(elemOID, []CompositeField{{Name: "name", Value: Text("x")}})
	_, elemData, err := Encode(elem)
	require.NoError(t, err)

	// Hand-frame a one-element array of the registered composite.
	data := []byte{
		0, 0, 0, 1,
		0, 0, 0, 0,
		byte(elemOID >> 24), byte(elemOID >> 16), byte(elemOID >> 8), byte(elemOID & 0xff),
		0, 0, 0, 1,
		0, 0, 0, 1,
	}
	data = append(data, byte(len(elemData)>>24), byte(len(elemData)>>16), byte(len(elemData)>>8), byte(len(elemData)))
	data = append(data, elemData...)

	decoded, err := Decode(cat, arrayOID, data)
	require.NoError(t, err)
	gotElemOID, elems, ok := decoded.Elements()
	require.True(t, ok)
	assert.Equal(t, elemOID, gotElemOID)
	require.Len(t, elems, 1)
	assert.True(t, elem.Equal(elems[0]))
}
