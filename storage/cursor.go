package storage

// SliceCursor steps through a result set that was materialized up front.
// Engines that evaluate their filter eagerly return one.
type SliceCursor struct {
	docs []Document
	cur  Document
}

// NewSliceCursor returns a cursor positioned before the first document.
func NewSliceCursor(docs []Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next() bool {
	if len(c.docs) == 0 {
		c.cur = nil
		return false
	}
	c.cur = c.docs[0]
	c.docs = c.docs[1:]
	return true
}

func (c *SliceCursor) Document() Document { return c.cur }

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close() error {
	c.docs = nil
	c.cur = nil
	return nil
}
