package mirror

import "testing"

func TestChopToBatches(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	batches := chopToBatches(items, 2)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 2 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batch sizes: %v", batches)
	}

	var flat []string
	for _, b := range batches {
		flat = append(flat, b...)
	}
	for i, v := range flat {
		if v != items[i] {
			t.Fatalf("batches lost ordering: got %v, want %v", flat, items)
		}
	}
}

func TestChopToBatchesEmpty(t *testing.T) {
	if batches := chopToBatches(nil, 10); batches != nil {
		t.Fatalf("expected nil batches for empty input, got %v", batches)
	}
}
