package docent

import (
	"github.com/docent-db/docent/codec"
	"github.com/docent-db/docent/record"
	"github.com/docent-db/docent/schema"
	"github.com/docent-db/docent/storage"
)

// Cursor decodes documents into records as the caller advances, one decode
// per step. It is single-pass and not restartable. A decode failure stops
// iteration and surfaces through Err.
type Cursor struct {
	reg *schema.Registry
	typ *schema.Type
	cur storage.Cursor
	rec *record.Record
	err error
}

// Next advances to the next record. It returns false when the results are
// exhausted or an error occurred; Err tells the two apart.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.cur.Next() {
		c.err = c.cur.Err()
		c.rec = nil
		return false
	}
	rec, err := codec.Decode(c.reg, c.typ, c.cur.Document())
	if err != nil {
		c.err = err
		c.rec = nil
		return false
	}
	c.rec = rec
	return true
}

// Record returns the record produced by the last successful Next.
func (c *Cursor) Record() *record.Record {
	return c.rec
}

// Err returns the first error hit during iteration.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the underlying engine cursor.
func (c *Cursor) Close() error {
	return c.cur.Close()
}

// All drains the cursor into a slice and closes it.
func (c *Cursor) All() ([]*record.Record, error) {
	defer c.Close()
	var out []*record.Record
	for c.Next() {
		out = append(out, c.Record())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
