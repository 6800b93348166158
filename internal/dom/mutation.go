package dom

// MutationKind distinguishes structural changes from attribute changes.
type MutationKind int

const (
	MutationChildList MutationKind = iota + 1
	MutationAttributes
)

// MutationRecord mirrors a single DOM MutationObserver record.
type MutationRecord struct {
	Kind          MutationKind
	Target        Element
	Added         []Element
	Removed       []Element
	AttributeName string
}

// ObserveOptions selects which mutations are delivered. Subtree child-list
// changes are always observed.
type ObserveOptions struct {
	// AttributeFilter limits attribute records to these names. Empty means
	// no attribute records.
	AttributeFilter []string
}

// MutationSource produces batches of mutation records for a document.
// Callbacks may run on any goroutine; implementations never call fn
// concurrently with itself.
type MutationSource interface {
	Observe(opts ObserveOptions, fn func([]MutationRecord)) (disconnect func(), err error)
}

// AttributeWanted reports whether name passes the filter.
func (o ObserveOptions) AttributeWanted(name string) bool {
	for _, n := range o.AttributeFilter {
		if n == name {
			return true
		}
	}
	return false
}
