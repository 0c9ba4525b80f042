package pgtype

import (
	"encoding/binary"
	"math"
)

func appendFloat8(buf []byte, f float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}

func appendPoint(buf []byte, p Point) []byte {
	return appendFloat8(appendFloat8(buf, p.X), p.Y)
}

func readFloat8(data []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(data))
}

func readPoint(data []byte) Point {
	return Point{X: readFloat8(data), Y: readFloat8(data[8:])}
}

func encodeGeometry(v Value) (uint32, []byte, error) {
	switch v.kind {
	case KindPoint:
		p, _ := v.Point()
		return OIDPoint, appendPoint(nil, p), nil

	case KindLine:
		l, _ := v.Line()
		if l.A == 0 && l.B == 0 {
			return 0, nil, &EncodingValidationError{Kind: KindLine, Message: "line requires A or B to be non-zero"}
		}
		return OIDLine, appendFloat8(appendFloat8(appendFloat8(nil, l.A), l.B), l.C), nil

	case KindLseg:
		l, _ := v.Lseg()
		return OIDLseg, appendPoint(appendPoint(nil, l.P0), l.P1), nil

	case KindBox:
		b, _ := v.Box()
		return OIDBox, appendPoint(appendPoint(nil, b.High), b.Low), nil

	case KindPath:
		p, _ := v.Path()
		closed := byte(0)
		if p.Closed {
			closed = 1
		}
		buf := append([]byte(nil), closed)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Points)))
		for _, pt := range p.Points {
			buf = appendPoint(buf, pt)
		}
		return OIDPath, buf, nil

	case KindPolygon:
		p, _ := v.Polygon()
		if len(p.Points) == 0 {
			return 0, nil, &EncodingValidationError{Kind: KindPolygon, Message: "polygon requires at least one point"}
		}
		buf := binary.BigEndian.AppendUint32(nil, uint32(len(p.Points)))
		for _, pt := range p.Points {
			buf = appendPoint(buf, pt)
		}
		return OIDPolygon, buf, nil

	case KindCircle:
		c, _ := v.Circle()
		if c.Radius < 0 {
			return 0, nil, &EncodingValidationError{Kind: KindCircle, Message: "circle radius must be non-negative"}
		}
		return OIDCircle, appendFloat8(appendPoint(nil, c.Center), c.Radius), nil
	}
	return 0, nil, &EncodingValidationError{Kind: v.kind, Message: "not a geometric kind"}
}

func decodeGeometry(oid uint32, data []byte) (Value, error) {
	switch oid {
	case OIDPoint:
		if len(data) != 16 {
			return Value{}, errDecodeLength(oid, "16 bytes", len(data))
		}
		return PointValue(readPoint(data)), nil

	case OIDLine:
		if len(data) != 24 {
			return Value{}, errDecodeLength(oid, "24 bytes", len(data))
		}
		return LineValue(Line{A: readFloat8(data), B: readFloat8(data[8:]), C: readFloat8(data[16:])}), nil

	case OIDLseg:
		if len(data) != 32 {
			return Value{}, errDecodeLength(oid, "32 bytes", len(data))
		}
		return LsegValue(Lseg{P0: readPoint(data), P1: readPoint(data[16:])}), nil

	case OIDBox:
		if len(data) != 32 {
			return Value{}, errDecodeLength(oid, "32 bytes", len(data))
		}
		return BoxValue(Box{High: readPoint(data), Low: readPoint(data[16:])}), nil

	case OIDPath:
		if len(data) < 5 {
			return Value{}, errDecodeLength(oid, "at least 5 bytes", len(data))
		}
		count := int(binary.BigEndian.Uint32(data[1:]))
		if len(data) != 5+count*16 {
			return Value{}, &DecodeMismatchError{OID: oid, Message: "length inconsistent with point count", Length: len(data)}
		}
		points := make([]Point, count)
		for i := range points {
			points[i] = readPoint(data[5+i*16:])
		}
		return Path(PathValue{Closed: data[0] != 0, Points: points}), nil

	case OIDPolygon:
		if len(data) < 4 {
			return Value{}, errDecodeLength(oid, "at least 4 bytes", len(data))
		}
		count := int(binary.BigEndian.Uint32(data))
		if len(data) != 4+count*16 {
			return Value{}, &DecodeMismatchError{OID: oid, Message: "length inconsistent with point count", Length: len(data)}
		}
		points := make([]Point, count)
		for i := range points {
			points[i] = readPoint(data[4+i*16:])
		}
		return Polygon(PolygonValue{Points: points}), nil

	case OIDCircle:
		if len(data) != 24 {
			return Value{}, errDecodeLength(oid, "24 bytes", len(data))
		}
		return CircleValue(Circle{Center: readPoint(data), Radius: readFloat8(data[16:])}), nil
	}
	return Value{}, &UnsupportedTypeError{OID: oid}
}
