package batch

import "github.com/vietddude/narrator/internal/core/domain"

// Item is one line of the board as seen by callers.
type Item struct {
	Index  int               `json:"index"`
	Line   domain.ScriptLine `json:"line"`
	Status domain.ItemStatus `json:"status"`
}

// Board is a point-in-time copy of the current run.
// Empty lines are not part of Items.
type Board struct {
	RunID   string         `json:"run_id"`
	Items   []Item         `json:"items"`
	Summary domain.Summary `json:"summary"`
}

type slot struct {
	line   domain.ScriptLine
	status domain.ItemStatus
	token  uint64
}

func summarize(lines []domain.ScriptLine, slots map[int]*slot) domain.Summary {
	s := domain.Summary{Total: len(lines)}
	for i := range lines {
		sl, ok := slots[i]
		if !ok {
			s.Skipped++
			continue
		}
		switch sl.status.State {
		case domain.ItemSucceeded:
			s.Succeeded++
		case domain.ItemFailed:
			s.Failed++
		}
	}
	return s
}
