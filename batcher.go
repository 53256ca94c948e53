package dumpload

// batcher groups accepted records into fixed-size batches and assigns each
// sealed batch the next sequence number, starting at zero. Indexes follow
// emission order and never skip, so a deterministic input always produces the
// same (index, records) pairs.
//
// When maxBytes is positive, a batch is also sealed early if adding the next
// record would push its raw line size past maxBytes. A record larger than
// maxBytes still forms a batch of its own; records are never dropped.
type batcher struct {
	downloadID string
	size       int
	maxBytes   int

	next    int
	current Batch
}

func newBatcher(downloadID string, size, maxBytes int) *batcher {
	b := &batcher{
		downloadID: downloadID,
		size:       max(size, 1),
		maxBytes:   maxBytes,
	}
	b.reset()
	return b
}

func (b *batcher) reset() {
	b.current = Batch{
		DownloadID: b.downloadID,
		Index:      b.next,
		Records:    make([]Record, 0, b.size),
	}
}

// add appends r, whose raw line was n bytes long, and calls emit for every
// batch that becomes complete.
func (b *batcher) add(r Record, n int, emit func(Batch) error) error {
	if b.maxBytes > 0 && b.current.Len() > 0 && b.current.bytes+n > b.maxBytes {
		if err := b.seal(emit); err != nil {
			return err
		}
	}

	b.current.Records = append(b.current.Records, r)
	b.current.bytes += n

	if b.current.Len() >= b.size {
		return b.seal(emit)
	}
	return nil
}

// flush emits the final short batch, if any.
func (b *batcher) flush(emit func(Batch) error) error {
	if b.current.Len() == 0 {
		return nil
	}
	return b.seal(emit)
}

// sealed returns how many batches have been emitted so far.
func (b *batcher) sealed() int {
	return b.next
}

func (b *batcher) seal(emit func(Batch) error) error {
	batch := b.current
	b.next++
	b.reset()
	return emit(batch)
}
