package pgtype

// Type OIDs from the server's built-in catalog. These are stable across
// server versions.
const (
	OIDBool        uint32 = 16
	OIDBytea       uint32 = 17
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDJSON        uint32 = 114
	OIDPoint       uint32 = 600
	OIDLseg        uint32 = 601
	OIDPath        uint32 = 602
	OIDBox         uint32 = 603
	OIDPolygon     uint32 = 604
	OIDLine        uint32 = 628
	OIDCIDR        uint32 = 650
	OIDFloat4      uint32 = 700
	OIDFloat8      uint32 = 701
	OIDCircle      uint32 = 718
	OIDMacaddr8    uint32 = 774
	OIDMoney       uint32 = 790
	OIDMacaddr     uint32 = 829
	OIDInet        uint32 = 869
	OIDVarchar     uint32 = 1043
	OIDDate        uint32 = 1082
	OIDTime        uint32 = 1083
	OIDTimestamp   uint32 = 1114
	OIDTimestampTZ uint32 = 1184
	OIDInterval    uint32 = 1186
	OIDTimeTZ      uint32 = 1266
	OIDNumeric     uint32 = 1700
	OIDRecord      uint32 = 2249
	OIDUUID        uint32 = 2950
	OIDJSONB       uint32 = 3802
)

// Array type OIDs.
const (
	OIDJSONArray        uint32 = 199
	OIDLineArray        uint32 = 629
	OIDCIDRArray        uint32 = 651
	OIDCircleArray      uint32 = 719
	OIDMacaddr8Array    uint32 = 775
	OIDMoneyArray       uint32 = 791
	OIDBoolArray        uint32 = 1000
	OIDByteaArray       uint32 = 1001
	OIDInt2Array        uint32 = 1005
	OIDInt4Array        uint32 = 1007
	OIDTextArray        uint32 = 1009
	OIDVarcharArray     uint32 = 1015
	OIDInt8Array        uint32 = 1016
	OIDPointArray       uint32 = 1017
	OIDLsegArray        uint32 = 1018
	OIDPathArray        uint32 = 1019
	OIDBoxArray         uint32 = 1020
	OIDFloat4Array      uint32 = 1021
	OIDFloat8Array      uint32 = 1022
	OIDPolygonArray     uint32 = 1027
	OIDMacaddrArray     uint32 = 1040
	OIDInetArray        uint32 = 1041
	OIDTimestampArray   uint32 = 1115
	OIDDateArray        uint32 = 1182
	OIDTimeArray        uint32 = 1183
	OIDTimestampTZArray uint32 = 1185
	OIDIntervalArray    uint32 = 1187
	OIDNumericArray     uint32 = 1231
	OIDTimeTZArray      uint32 = 1270
	OIDRecordArray      uint32 = 2287
	OIDUUIDArray        uint32 = 2951
	OIDJSONBArray       uint32 = 3807
)

// OIDVector is the default OID for the float-vector extension type. Extension
// OIDs are assigned per installation; override via Catalog.RegisterVector.
const OIDVector uint32 = 16385

// OIDVectorArray is the default array OID for the float-vector type.
const OIDVectorArray uint32 = 16391

var elemToArray = map[uint32]uint32{
	OIDBool:        OIDBoolArray,
	OIDBytea:       OIDByteaArray,
	OIDInt2:        OIDInt2Array,
	OIDInt4:        OIDInt4Array,
	OIDInt8:        OIDInt8Array,
	OIDFloat4:      OIDFloat4Array,
	OIDFloat8:      OIDFloat8Array,
	OIDText:        OIDTextArray,
	OIDVarchar:     OIDVarcharArray,
	OIDNumeric:     OIDNumericArray,
	OIDMoney:       OIDMoneyArray,
	OIDDate:        OIDDateArray,
	OIDTime:        OIDTimeArray,
	OIDTimeTZ:      OIDTimeTZArray,
	OIDTimestamp:   OIDTimestampArray,
	OIDTimestampTZ: OIDTimestampTZArray,
	OIDInterval:    OIDIntervalArray,
	OIDUUID:        OIDUUIDArray,
	OIDJSON:        OIDJSONArray,
	OIDJSONB:       OIDJSONBArray,
	OIDInet:        OIDInetArray,
	OIDCIDR:        OIDCIDRArray,
	OIDMacaddr:     OIDMacaddrArray,
	OIDMacaddr8:    OIDMacaddr8Array,
	OIDPoint:       OIDPointArray,
	OIDLine:        OIDLineArray,
	OIDLseg:        OIDLsegArray,
	OIDBox:         OIDBoxArray,
	OIDPath:        OIDPathArray,
	OIDPolygon:     OIDPolygonArray,
	OIDCircle:      OIDCircleArray,
	OIDRecord:      OIDRecordArray,
	OIDVector:      OIDVectorArray,
}

var arrayToElem = func() map[uint32]uint32 {
	m := make(map[uint32]uint32, len(elemToArray))
	for elem, arr := range elemToArray {
		m[arr] = elem
	}
	return m
}()

// ArrayOID returns the array type OID for an element OID.
func ArrayOID(elem uint32) (uint32, bool) {
	arr, ok := elemToArray[elem]
	return arr, ok
}

// ElementOID returns the element type OID for an array OID.
func ElementOID(array uint32) (uint32, bool) {
	elem, ok := arrayToElem[array]
	return elem, ok
}
