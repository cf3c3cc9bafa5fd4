package compress

// TokenStats compares the original sequence against the compressed one.
// SavedTokens is negative when edits grow the conversation.
type TokenStats struct {
	OriginalTotal   int
	CompressedTotal int
	SavedTokens     int
	SavedPercentage float64
}

// ChangeStats counts stored operations by kind.
type ChangeStats struct {
	Deleted  int
	Modified int
	Inserted int
}

// Total is the number of stored edits.
func (c ChangeStats) Total() int {
	return c.Deleted + c.Modified + c.Inserted
}

// Stats bundles token and change statistics.
type Stats struct {
	Tokens  TokenStats
	Changes ChangeStats
}

// ComputeStats derives statistics for messages under view. Inserted messages
// are added on top of the per-message totals regardless of their slot.
func ComputeStats(messages []Message, view View, counter *TokenCounter) Stats {
	if counter == nil {
		counter = NewTokenCounter(nil, nil)
	}

	var tokens TokenStats
	for _, msg := range messages {
		original := counter.Message(msg)
		tokens.OriginalTotal += original

		op, ok := view.Operation(msg.ID)
		switch {
		case !ok || op.Kind == KindKeep:
			tokens.CompressedTotal += original
		case op.Kind == KindModify:
			tokens.CompressedTotal += counter.Text(op.Text)
		case op.Kind == KindDelete:
		}
	}
	for _, idx := range view.InsertionIndexes() {
		op, _ := view.Insertion(idx)
		tokens.CompressedTotal += counter.Uncached(op.Message)
	}

	tokens.SavedTokens = tokens.OriginalTotal - tokens.CompressedTotal
	if tokens.OriginalTotal != 0 {
		tokens.SavedPercentage = float64(tokens.SavedTokens) / float64(tokens.OriginalTotal) * 100
	}

	return Stats{
		Tokens: tokens,
		Changes: ChangeStats{
			Deleted:  view.OperationCount(KindDelete),
			Modified: view.OperationCount(KindModify),
			Inserted: view.OperationCount(KindInsert),
		},
	}
}
