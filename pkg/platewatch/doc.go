// Package platewatch exposes the plate normalization and presence
// debounce used by the platewatch daemon, for programs that bring their
// own camera and OCR.
//
// Quick start:
//
//	t := platewatch.NewTracker(platewatch.WithDebounce(30 * time.Second))
//
//	if tr, ok := t.Observe(ocrText, time.Now()); ok {
//	    fmt.Println(tr.Plate, tr.Direction) // 1-ACD-234 in
//	}
//
// A Tracker is safe for concurrent use.
package platewatch
