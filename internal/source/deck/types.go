package deck

// Board is one Deck board as returned by GET /boards.
type Board struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Archived bool   `json:"archived"`
}

// Stack is one board column, optionally with its cards when the stacks
// endpoint is queried with details.
type Stack struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
	Cards []Card `json:"cards"`
}

// Card is one Deck card.
type Card struct {
	ID              int64          `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Duedate         string         `json:"duedate"`
	Done            string         `json:"done"`
	ETag            string         `json:"ETag"`
	Labels          []Label        `json:"labels"`
	AssignedUsers   []AssignedUser `json:"assignedUsers"`
	CommentsCount   int            `json:"commentsCount"`
	AttachmentCount int            `json:"attachmentCount"`
}

// Label is a card label.
type Label struct {
	Title string `json:"title"`
}

// AssignedUser wraps the participant assigned to a card.
type AssignedUser struct {
	Participant Participant `json:"participant"`
}

// Participant identifies a user on the Nextcloud instance.
type Participant struct {
	UID string `json:"uid"`
}

// reorderRequest is the body of the card reorder call.
type reorderRequest struct {
	StackID int64 `json:"stackId"`
	Order   int   `json:"order"`
}
