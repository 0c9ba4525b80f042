package pgtype

import "encoding/binary"

// Composite wire layout: int32 field count, then per field a uint32 type
// OID, an int32 byte length (-1 for null) and the field bytes. Field names
// are not on the wire; decoding resolves them from the catalog schema.

func encodeComposite(v Value) (uint32, []byte, error) {
	typeOID, fields, _ := v.Fields()
	if typeOID == 0 {
		return 0, nil, &EncodingValidationError{
			Kind:    KindComposite,
			Message: "composite requires an explicit type oid",
		}
	}

	buf := binary.BigEndian.AppendUint32(nil, uint32(len(fields)))
	for _, field := range fields {
		oid, data, err := Encode(field.Value)
		if err != nil {
			return 0, nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, oid)
		if data == nil {
			buf = binary.BigEndian.AppendUint32(buf, 0xFFFFFFFF)
			continue
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return typeOID, buf, nil
}

func decodeComposite(cat *Catalog, typeOID uint32, schema CompositeSchema, data []byte) (Value, error) {
	if len(data) < 4 {
		return Value{}, errDecodeLength(typeOID, "at least 4 bytes", len(data))
	}
	count := int(binary.BigEndian.Uint32(data))
	if count != len(schema.Fields) {
		return Value{}, &DecodeMismatchError{
			OID:     typeOID,
			Message: "field count differs from catalog schema",
			Length:  len(data),
		}
	}

	pos := 4
	fields := make([]CompositeField, 0, count)
	for i := 0; i < count; i++ {
		if pos+8 > len(data) {
			return Value{}, &DecodeMismatchError{OID: typeOID, Message: "truncated field header", Length: len(data)}
		}
		fieldOID := binary.BigEndian.Uint32(data[pos:])
		size := int32(binary.BigEndian.Uint32(data[pos+4:]))
		pos += 8

		if fieldOID != schema.Fields[i].OID {
			return Value{}, &DecodeMismatchError{
				OID:     typeOID,
				Message: "field type differs from catalog schema",
				Length:  len(data),
			}
		}

		var fieldValue Value
		if size == -1 {
			fieldValue = Null(fieldOID)
		} else {
			if pos+int(size) > len(data) {
				return Value{}, &DecodeMismatchError{OID: typeOID, Message: "truncated field bytes", Length: len(data)}
			}
			var err error
			fieldValue, err = Decode(cat, fieldOID, data[pos:pos+int(size)])
			if err != nil {
				return Value{}, err
			}
			pos += int(size)
		}
		fields = append(fields, CompositeField{Name: schema.Fields[i].Name, Value: fieldValue})
	}
	return Composite(typeOID, fields), nil
}
