package pgtype

import "encoding/binary"

// Array wire layout: int32 dimension count, int32 has-nulls flag, uint32
// element OID, then per dimension (int32 length, int32 lower bound), then
// per element an int32 byte length (-1 for null) and the element bytes.
// The codec produces and consumes one-dimensional arrays; an empty array
// is written with zero dimensions, as the server does.

func encodeArray(v Value) (uint32, []byte, error) {
	elemOID, elems, _ := v.Elements()
	if elemOID == 0 {
		return 0, nil, &EncodingValidationError{
			Kind:    KindArray,
			Message: "array requires an explicit element type oid",
		}
	}
	arrayOID, ok := ArrayOID(elemOID)
	if !ok {
		return 0, nil, &UnsupportedTypeError{OID: elemOID}
	}

	var encoded [][]byte
	hasNulls := int32(0)
	for _, elem := range elems {
		if elem.IsNull() {
			hasNulls = 1
			encoded = append(encoded, nil)
			continue
		}
		oid, data, err := Encode(elem)
		if err != nil {
			return 0, nil, err
		}
		if oid != elemOID {
			return 0, nil, &EncodingValidationError{
				Kind:    KindArray,
				Message: "element type differs from the array's declared element type",
			}
		}
		encoded = append(encoded, data)
	}

	if len(elems) == 0 {
		buf := binary.BigEndian.AppendUint32(nil, 0)
		buf = binary.BigEndian.AppendUint32(buf, 0)
		buf = binary.BigEndian.AppendUint32(buf, elemOID)
		return arrayOID, buf, nil
	}

	buf := binary.BigEndian.AppendUint32(nil, 1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(hasNulls))
	buf = binary.BigEndian.AppendUint32(buf, elemOID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(elems)))
	buf = binary.BigEndian.AppendUint32(buf, 1) // lower bound
	for _, data := range encoded {
		if data == nil {
			buf = binary.BigEndian.AppendUint32(buf, 0xFFFFFFFF)
			continue
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return arrayOID, buf, nil
}

func decodeArray(cat *Catalog, arrayOID uint32, data []byte) (Value, error) {
	declaredElem, _ := ElementOID(arrayOID)
	return decodeArrayBody(cat, arrayOID, declaredElem, data)
}

// decodeRegisteredArray handles array OIDs known only through the catalog
// (extension and composite array types).
func decodeRegisteredArray(cat *Catalog, arrayOID, elemOID uint32, data []byte) (Value, error) {
	return decodeArrayBody(cat, arrayOID, elemOID, data)
}

func decodeArrayBody(cat *Catalog, arrayOID, declaredElem uint32, data []byte) (Value, error) {
	if len(data) < 12 {
		return Value{}, errDecodeLength(arrayOID, "at least 12 bytes", len(data))
	}
	ndim := int32(binary.BigEndian.Uint32(data))
	elemOID := binary.BigEndian.Uint32(data[8:])
	if elemOID == 0 {
		elemOID = declaredElem
	}

	if ndim == 0 {
		return Array(elemOID, []Value{}), nil
	}
	if ndim != 1 {
		return Value{}, &DecodeMismatchError{OID: arrayOID, Message: "only one-dimensional arrays are supported", Length: len(data)}
	}
	if len(data) < 20 {
		return Value{}, errDecodeLength(arrayOID, "at least 20 bytes", len(data))
	}

	count := int(binary.BigEndian.Uint32(data[12:]))
	pos := 20
	elems := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return Value{}, &DecodeMismatchError{OID: arrayOID, Message: "truncated element length", Length: len(data)}
		}
		size := int32(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if size == -1 {
			elems = append(elems, Null(elemOID))
			continue
		}
		if pos+int(size) > len(data) {
			return Value{}, &DecodeMismatchError{OID: arrayOID, Message: "truncated element bytes", Length: len(data)}
		}
		elem, err := Decode(cat, elemOID, data[pos:pos+int(size)])
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, elem)
		pos += int(size)
	}
	if pos != len(data) {
		return Value{}, &DecodeMismatchError{OID: arrayOID, Message: "trailing bytes after last element", Length: len(data)}
	}
	return Array(elemOID, elems), nil
}
