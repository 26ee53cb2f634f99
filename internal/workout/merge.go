package workout

// Merge combines a freshly extracted partial record into the accumulated one.
//
// Policy: for every field present in incoming, the incoming value overwrites
// the existing one. The extractor only emits a field the user mentioned (or
// corrected) this turn, and the temporally later utterance wins. Fields
// absent in incoming are left untouched; absence never erases captured data.
//
// Merge is idempotent (re-merging the same incoming record is a no-op) and
// has no error path. Both arguments are read-only; the result shares no
// pointers with either input.
func Merge(existing, incoming Record) Record {
	merged := clone(existing)
	if incoming.Exercise != nil {
		merged.Exercise = ptr(*incoming.Exercise)
	}
	if incoming.Sets != nil {
		merged.Sets = ptr(*incoming.Sets)
	}
	if incoming.Reps != nil {
		merged.Reps = ptr(*incoming.Reps)
	}
	if incoming.Weight != nil {
		merged.Weight = ptr(*incoming.Weight)
	}
	if incoming.RestTime != nil {
		merged.RestTime = ptr(*incoming.RestTime)
	}
	if incoming.Comments != nil {
		merged.Comments = ptr(*incoming.Comments)
	}
	return merged
}

// clone deep-copies a record so callers can mutate the result freely.
func clone(r Record) Record {
	out := Record{}
	if r.Exercise != nil {
		out.Exercise = ptr(*r.Exercise)
	}
	if r.Sets != nil {
		out.Sets = ptr(*r.Sets)
	}
	if r.Reps != nil {
		out.Reps = ptr(*r.Reps)
	}
	if r.Weight != nil {
		out.Weight = ptr(*r.Weight)
	}
	if r.RestTime != nil {
		out.RestTime = ptr(*r.RestTime)
	}
	if r.Comments != nil {
		out.Comments = ptr(*r.Comments)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
