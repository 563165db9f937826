package causaldoc

// Fork returns a new, independent document seeded with this document's
// entire causal history, peered under a freshly generated identity so
// the fork's own edits never collide with the original's.
func (d *Document) Fork() (*Document, error) {
	snapshot, err := d.ExportSnapshot()
	if err != nil {
		return nil, err
	}
	fork := New()
	if err := fork.Import(snapshot); err != nil {
		return nil, err
	}
	return fork, nil
}
