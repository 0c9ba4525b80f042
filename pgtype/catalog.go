package pgtype

import "sync"

// FieldSchema is one attribute of a composite type.
type FieldSchema struct {
	Name string
	OID  uint32
}

// CompositeSchema is the field layout of a composite type.
type CompositeSchema struct {
	Name   string
	Fields []FieldSchema
}

// Catalog maps type OIDs outside the built-in set to their schemas. Each
// connection holds one, filled lazily from the server's catalog tables and
// consulted by Decode for composite and registered array types.
type Catalog struct {
	mu         sync.RWMutex
	composites map[uint32]CompositeSchema
	arrayElems map[uint32]uint32
	vectorOID  uint32
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		composites: make(map[uint32]CompositeSchema),
		arrayElems: make(map[uint32]uint32),
		vectorOID:  OIDVector,
	}
}

// Register records a composite type's schema.
func (c *Catalog) Register(oid uint32, schema CompositeSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.composites[oid] = schema
}

// Lookup returns the schema for a composite type OID.
func (c *Catalog) Lookup(oid uint32) (CompositeSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.composites[oid]
	return schema, ok
}

// RegisterArray records an array OID outside the built-in set together with
// its element OID (composite arrays, extension type arrays).
func (c *Catalog) RegisterArray(arrayOID, elemOID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrayElems[arrayOID] = elemOID
}

// LookupArrayElement returns the element OID for a registered array OID.
func (c *Catalog) LookupArrayElement(arrayOID uint32) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elem, ok := c.arrayElems[arrayOID]
	return elem, ok
}

// RegisterVector overrides the OID of the float-vector extension type for
// installations where it differs from the default.
func (c *Catalog) RegisterVector(oid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectorOID = oid
}

// VectorOID returns the effective float-vector type OID.
func (c *Catalog) VectorOID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vectorOID
}
