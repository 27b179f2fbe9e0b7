package deck

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nhle/deck-notify/internal/model"
)

// Adapter flattens the Deck board hierarchy (boards -> stacks -> cards)
// into normalized task snapshots. It implements source.Fetcher.
type Adapter struct {
	client *Client
}

// NewAdapter creates a Deck source adapter.
func NewAdapter(baseURL, username, password string) *Adapter {
	return &Adapter{client: NewClient(baseURL, username, password)}
}

// Ping verifies connectivity and credentials; it returns the number of
// visible boards.
func (a *Adapter) Ping(ctx context.Context) (int, error) {
	var boards []Board
	if err := a.client.Get(ctx, "/boards", &boards); err != nil {
		return 0, fmt.Errorf("listing boards: %w", err)
	}
	return len(boards), nil
}

// FetchAll retrieves every card on every non-archived board, with its
// column context, parsed timestamps, fingerprint, assignees, labels, and
// counters.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.TaskSnapshot, error) {
	var boards []Board
	if err := a.client.Get(ctx, "/boards", &boards); err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}

	var out []model.TaskSnapshot
	for _, board := range boards {
		if board.Archived {
			continue
		}

		stacks, err := a.boardStacks(ctx, board.ID)
		if err != nil {
			return nil, err
		}

		doneID, doneTitle := terminalStack(stacks)

		for idx, stack := range stacks {
			cards := stack.Cards
			if len(cards) == 0 {
				// The list endpoint omits cards for some Deck versions;
				// fall back to the per-stack endpoint.
				var single Stack
				path := fmt.Sprintf("/boards/%d/stacks/%d?details=true", board.ID, stack.ID)
				if err := a.client.Get(ctx, path, &single); err != nil {
					return nil, fmt.Errorf("fetching stack %d: %w", stack.ID, err)
				}
				cards = single.Cards
			}

			for _, card := range cards {
				t := model.TaskSnapshot{
					CardID:           card.ID,
					Title:            card.Title,
					Description:      card.Description,
					BoardID:          board.ID,
					BoardTitle:       board.Title,
					StackID:          stack.ID,
					StackTitle:       stack.Title,
					ETag:             card.ETag,
					CommentsCount:    card.CommentsCount,
					AttachmentsCount: card.AttachmentCount,
					DueDate:          parseTimestamp(card.Duedate),
					Done:             parseTimestamp(card.Done),
					DoneStackID:      doneID,
					DoneStackTitle:   doneTitle,
				}

				if idx > 0 {
					t.PrevStackID = &stacks[idx-1].ID
					t.PrevStackTitle = &stacks[idx-1].Title
				}
				if idx < len(stacks)-1 {
					t.NextStackID = &stacks[idx+1].ID
					t.NextStackTitle = &stacks[idx+1].Title
				}

				for _, u := range card.AssignedUsers {
					if u.Participant.UID != "" {
						t.Assignees = append(t.Assignees, u.Participant.UID)
					}
				}
				sort.Strings(t.Assignees)

				for _, l := range card.Labels {
					if l.Title != "" {
						t.Labels = append(t.Labels, l.Title)
					}
				}
				sort.Strings(t.Labels)

				out = append(out, t)
			}
		}
	}

	return out, nil
}

// Relocate moves a card to the end of the target column.
func (a *Adapter) Relocate(ctx context.Context, boardID, cardID, targetStackID int64) error {
	stacks, err := a.boardStacks(ctx, boardID)
	if err != nil {
		return err
	}

	position := 0
	found := false
	for _, s := range stacks {
		if s.ID == targetStackID {
			position = len(s.Cards)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("target stack %d not found on board %d", targetStackID, boardID)
	}

	path := fmt.Sprintf("/boards/%d/stacks/%d/cards/%d/reorder", boardID, targetStackID, cardID)
	body := reorderRequest{StackID: targetStackID, Order: position}
	if err := a.client.Put(ctx, path, body, nil); err != nil {
		return fmt.Errorf("relocating card %d: %w", cardID, err)
	}
	return nil
}

// boardStacks fetches a board's stacks sorted by their column order.
func (a *Adapter) boardStacks(ctx context.Context, boardID int64) ([]Stack, error) {
	var stacks []Stack
	path := fmt.Sprintf("/boards/%d/stacks?details=true", boardID)
	if err := a.client.Get(ctx, path, &stacks); err != nil {
		return nil, fmt.Errorf("fetching stacks of board %d: %w", boardID, err)
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].Order < stacks[j].Order })
	return stacks, nil
}

// terminalStack resolves the board's canonical terminal column: a stack
// titled "done" if present, else the rightmost one. Boards with fewer than
// two columns have no meaningful terminal column.
func terminalStack(stacks []Stack) (*int64, *string) {
	if len(stacks) < 2 {
		return nil, nil
	}
	for i := range stacks {
		if strings.EqualFold(stacks[i].Title, "done") {
			return &stacks[i].ID, &stacks[i].Title
		}
	}
	last := len(stacks) - 1
	return &stacks[last].ID, &stacks[last].Title
}

// parseTimestamp parses an ISO-8601 timestamp from the API into UTC,
// returning nil for empty values.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}
