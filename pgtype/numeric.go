package pgtype

import (
	"encoding/binary"
	"math/big"

	"github.com/shopspring/decimal"
)

// Numeric wire layout: int16 digit count, int16 weight, uint16 sign,
// uint16 display scale, then the digits in base 10000, most significant
// first. The weight is the base-10000 exponent of the first digit.
const (
	numericPositive uint16 = 0x0000
	numericNegative uint16 = 0x4000
	numericNaN      uint16 = 0xC000

	numericBase = 10000
)

var (
	bigTen         = big.NewInt(10)
	bigNumericBase = big.NewInt(numericBase)
)

func encodeNumeric(d decimal.Decimal) []byte {
	sign := numericPositive
	if d.Sign() < 0 {
		sign = numericNegative
	}

	coef := new(big.Int).Abs(d.Coefficient())
	exp := int(d.Exponent())

	dscale := 0
	if exp < 0 {
		dscale = -exp
	} else if exp > 0 {
		// Positive exponents fold into the integer part.
		coef.Mul(coef, new(big.Int).Exp(bigTen, big.NewInt(int64(exp)), nil))
	}

	// Pad the fractional part to a whole number of base-10000 digits.
	pad := (4 - dscale%4) % 4
	if pad > 0 {
		coef.Mul(coef, new(big.Int).Exp(bigTen, big.NewInt(int64(pad)), nil))
	}
	fracGroups := (dscale + pad) / 4

	var groups []uint16
	rem := new(big.Int)
	for coef.Sign() != 0 {
		coef.QuoRem(coef, bigNumericBase, rem)
		groups = append(groups, uint16(rem.Int64()))
	}
	// groups is least significant first; weight counts from the most
	// significant group.
	weight := len(groups) - fracGroups - 1

	// Trim trailing zero groups (least significant end of the wire form).
	trailing := 0
	for trailing < len(groups) && groups[trailing] == 0 {
		trailing++
	}
	groups = groups[trailing:]

	if len(groups) == 0 {
		weight = 0
	}

	buf := binary.BigEndian.AppendUint16(nil, uint16(len(groups)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(int16(weight)))
	buf = binary.BigEndian.AppendUint16(buf, sign)
	buf = binary.BigEndian.AppendUint16(buf, uint16(dscale))
	for i := len(groups) - 1; i >= 0; i-- {
		buf = binary.BigEndian.AppendUint16(buf, groups[i])
	}
	return buf
}

func decodeNumeric(data []byte) (Value, error) {
	if len(data) < 8 {
		return Value{}, errDecodeLength(OIDNumeric, "at least 8 bytes", len(data))
	}
	ndigits := int(int16(binary.BigEndian.Uint16(data)))
	weight := int(int16(binary.BigEndian.Uint16(data[2:])))
	sign := binary.BigEndian.Uint16(data[4:])
	dscale := int(binary.BigEndian.Uint16(data[6:]))

	if sign == numericNaN {
		return Value{}, &DecodeMismatchError{OID: OIDNumeric, Message: "NaN numeric has no decimal representation", Length: len(data)}
	}
	if len(data) != 8+ndigits*2 {
		return Value{}, &DecodeMismatchError{OID: OIDNumeric, Message: "length inconsistent with digit count", Length: len(data)}
	}

	acc := new(big.Int)
	for i := 0; i < ndigits; i++ {
		digit := int64(binary.BigEndian.Uint16(data[8+i*2:]))
		if digit >= numericBase {
			return Value{}, &DecodeMismatchError{OID: OIDNumeric, Message: "digit out of base-10000 range", Length: len(data)}
		}
		acc.Mul(acc, bigNumericBase)
		acc.Add(acc, big.NewInt(digit))
	}

	// acc currently holds the value times 10000^(ndigits-1-weight). Shift it
	// to the declared display scale.
	exp := 4 * (weight - ndigits + 1)
	diff := exp + dscale
	switch {
	case diff > 0:
		acc.Mul(acc, new(big.Int).Exp(bigTen, big.NewInt(int64(diff)), nil))
	case diff < 0:
		shift := new(big.Int).Exp(bigTen, big.NewInt(int64(-diff)), nil)
		rem := new(big.Int)
		acc.QuoRem(acc, shift, rem)
		if rem.Sign() != 0 {
			return Value{}, &DecodeMismatchError{OID: OIDNumeric, Message: "digits extend past display scale", Length: len(data)}
		}
	}
	if sign == numericNegative {
		acc.Neg(acc)
	}
	return Numeric(decimal.NewFromBigInt(acc, int32(-dscale))), nil
}
