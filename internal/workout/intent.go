package workout

// Intent is the operation a conversation resolves to. It is classified once
// per conversation, on the opening utterance, and never re-derived mid-loop.
type Intent string

const (
	IntentCreate Intent = "create"
	IntentRead   Intent = "read"
	IntentUpdate Intent = "update"
	IntentDelete Intent = "delete"
)

// IsValid reports whether i is a recognised intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentCreate, IntentRead, IntentUpdate, IntentDelete:
		return true
	}
	return false
}
