package mirror

// chopToBatches splits items into fixed-size batches, the correct
// implementation of mirror.py's chop_to_batches (spec §9 Open Question:
// the Python original references an undefined itertools.group and was
// never functional — this is the straightforward chunker it evidently
// intended).
func chopToBatches(items []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = len(items)
		if batchSize == 0 {
			return nil
		}
	}
	var batches [][]string
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
