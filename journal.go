package chaindb

// Journal enumerates pending mutations and drives a write context: for each
// pending table it calls StartTable followed by AddData per operation (and
// AddPrepareUndo / AddCompleteUndo for the undo brackets), then finishes the
// cycle with Write. The driver constructs a fresh context per apply call.
type Journal interface {
	// ApplyTableChanges applies the pending changes of one (code, table).
	ApplyTableChanges(ctx *WriteContext, table TableInfo) error

	// ApplyCodeChanges applies the pending changes of every table of a code.
	ApplyCodeChanges(ctx *WriteContext, code Name) error

	// ApplyAllChanges applies every pending change.
	ApplyAllChanges(ctx *WriteContext) error
}
