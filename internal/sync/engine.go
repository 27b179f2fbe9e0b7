// Package sync implements the change-detection loop: it diffs each fetched
// board snapshot against the last persisted state, persists what changed,
// and dispatches notifications to assignees and the bound channel thread.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhle/deck-notify/internal/diff"
	"github.com/nhle/deck-notify/internal/model"
	"github.com/nhle/deck-notify/internal/notify"
	"github.com/nhle/deck-notify/internal/source"
	"github.com/nhle/deck-notify/internal/store"
)

// Config holds the engine's tunables.
type Config struct {
	// Interval is the sleep between poll cycles and the retry delay after
	// a failed fetch.
	Interval time.Duration

	// Timezone is the team timezone used for due-date comparison and
	// rendering.
	Timezone *time.Location

	// Muted lists card ids excluded from user/channel-facing
	// notifications. Muted cards still update persisted state and stats.
	Muted map[int64]struct{}
}

// Engine runs the periodic change-detection cycle. It is single-threaded:
// tasks within a cycle are processed sequentially because each task's
// persistence and dispatch are ordered.
type Engine struct {
	fetcher source.Fetcher
	store   store.Store
	sender  notify.Sender
	cfg     Config
	logger  *slog.Logger
}

// New creates a change-detection engine.
func New(fetcher source.Fetcher, st store.Store, sender notify.Sender, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		fetcher: fetcher,
		store:   st,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes poll cycles until the context is canceled. A failed cycle is
// logged and retried after the normal interval; nothing here is fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync: poll loop starting", "interval", e.cfg.Interval)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.Cycle(ctx); err != nil {
			e.logger.Error("sync: cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycleState is the per-cycle working set, loaded once to bound query count.
type cycleState struct {
	saved      map[int64]model.TaskSnapshot
	stats      map[int64]model.TaskStats
	links      map[int64]map[string]struct{}
	labels     map[int64][]string
	recipients map[string]int64
}

// Cycle performs one full poll: fetch, diff, persist, dispatch. A fetch
// failure aborts the cycle before any write; per-task failures are logged
// and skipped.
func (e *Engine) Cycle(ctx context.Context) error {
	tasks, err := e.fetcher.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetching tasks: %w", err)
	}

	st, err := e.loadState(ctx)
	if err != nil {
		return err
	}

	changed := 0
	for _, task := range tasks {
		didChange, err := e.processTask(ctx, task, st)
		if err != nil {
			e.logger.Error("sync: task failed", "card", task.CardID, "error", err)
			continue
		}
		if didChange {
			changed++
		}
	}

	e.logger.Info("sync: cycle complete", "tasks", len(tasks), "changed", changed)
	return nil
}

func (e *Engine) loadState(ctx context.Context) (*cycleState, error) {
	saved, err := e.store.GetSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading snapshots: %w", err)
	}
	stats, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}
	links, err := e.store.GetAssigneeLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading assignee links: %w", err)
	}
	labels, err := e.store.GetLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading labels: %w", err)
	}
	recipients, err := e.store.GetRecipientMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading recipient map: %w", err)
	}
	return &cycleState{
		saved:      saved,
		stats:      stats,
		links:      links,
		labels:     labels,
		recipients: recipients,
	}, nil
}

// changeSet is the computed outcome for one task, built before any
// persistence or dispatch happens.
type changeSet struct {
	isNew        bool
	lines        []string
	labelsDiffer bool
	needsPersist bool
}

// processTask handles one fetched task end to end: compute the change set,
// persist, then dispatch. Returns whether anything changed.
func (e *Engine) processTask(ctx context.Context, task model.TaskSnapshot, st *cycleState) (bool, error) {
	saved, seen := st.saved[task.CardID]

	// Step 1: compute.
	cs := e.computeChanges(task, saved, seen, st.labels[task.CardID])

	// A card marked done but still sitting outside the terminal column is
	// relocated at the source before its snapshot is persisted.
	if task.Done != nil && task.DoneStackID != nil && task.DoneStackTitle != nil && task.StackID != *task.DoneStackID {
		if err := e.fetcher.Relocate(ctx, task.BoardID, task.CardID, *task.DoneStackID); err != nil {
			e.logger.Warn("sync: relocation failed", "card", task.CardID, "error", err)
		} else {
			oldID, oldTitle := task.StackID, task.StackTitle
			task.StackID = *task.DoneStackID
			task.StackTitle = *task.DoneStackTitle
			task.PrevStackID = &oldID
			task.PrevStackTitle = &oldTitle
			task.NextStackID = nil
			task.NextStackTitle = nil
			cs.needsPersist = true
		}
	}

	// Step 2: persist.
	if cs.needsPersist {
		if err := e.store.UpsertSnapshot(ctx, task); err != nil {
			return false, fmt.Errorf("persisting snapshot: %w", err)
		}
	}
	if cs.isNew || cs.labelsDiffer {
		if err := e.store.SetLabels(ctx, task.CardID, task.Labels); err != nil {
			e.logger.Error("sync: persisting labels failed", "card", task.CardID, "error", err)
		}
	}

	muted := e.isMuted(task.CardID)

	// Stats deltas run on every fetched task, fingerprint or not.
	if err := e.reconcileStats(ctx, task, st, muted); err != nil {
		e.logger.Error("sync: stats update failed", "card", task.CardID, "error", err)
	}

	// Step 3: assignee reconciliation, then dispatch.
	newLinks := e.reconcileAssignees(ctx, task, st, muted)

	if !muted {
		e.dispatch(ctx, task, cs, st, newLinks)
	}

	return cs.isNew || len(cs.lines) > 0, nil
}

// computeChanges classifies the task and itemizes field diffs. The
// fingerprint short-circuits detailed diffing when unchanged.
func (e *Engine) computeChanges(task, saved model.TaskSnapshot, seen bool, savedLabels []string) changeSet {
	if !seen {
		return changeSet{isNew: true, needsPersist: true, labelsDiffer: true}
	}

	if task.ETag != "" && task.ETag == saved.ETag {
		// Unchanged upstream; nothing to diff.
		return changeSet{}
	}

	var cs changeSet

	if saved.StackID != task.StackID {
		cs.lines = append(cs.lines,
			fmt.Sprintf("Column: *%s* → *%s*", saved.StackTitle, task.StackTitle))
	}

	od := e.formatDueMinute(saved.DueDate)
	nd := e.formatDueMinute(task.DueDate)
	if od != nd {
		cs.lines = append(cs.lines, fmt.Sprintf("Due: `%s` → `%s`", od, nd))
	}

	if saved.Title != task.Title {
		cs.lines = append(cs.lines,
			fmt.Sprintf("Title: `%s` → `%s`", saved.Title, task.Title))
	}

	if saved.Description != task.Description {
		d := diff.Compute(saved.Description, task.Description)
		if d.Empty() {
			cs.lines = append(cs.lines, "Description changed")
		} else {
			cs.lines = append(cs.lines, "Description changed:\n"+d.Render())
		}
	}

	if added, removed := labelDiff(savedLabels, task.Labels); len(added)+len(removed) > 0 {
		cs.labelsDiffer = true
		var parts []string
		for _, l := range added {
			parts = append(parts, "+"+l)
		}
		for _, l := range removed {
			parts = append(parts, "-"+l)
		}
		cs.lines = append(cs.lines, "Labels: "+strings.Join(parts, ", "))
	}

	// Persist on any diff, on a missing recorded fingerprint, and as a
	// one-time backfill when the adjacent-column fields were never stored.
	cs.needsPersist = len(cs.lines) > 0 ||
		saved.ETag == "" ||
		(saved.PrevStackID == nil && saved.NextStackID == nil)

	return cs
}

// reconcileStats computes comment/attachment deltas against the last
// observed counters and upserts them when they moved.
func (e *Engine) reconcileStats(ctx context.Context, task model.TaskSnapshot, st *cycleState, muted bool) error {
	prev, exists := st.stats[task.CardID]

	if exists && !muted {
		if d := task.CommentsCount - prev.CommentsCount; d != 0 {
			e.sender.SendLog(ctx, task.BoardID,
				fmt.Sprintf("💬 *%s*: %s comments", task.Title, signed(d)),
				notify.SendOptions{Kind: model.DeliveryKindStats, CardID: task.CardID})
		}
		if d := task.AttachmentsCount - prev.AttachmentsCount; d != 0 {
			e.sender.SendLog(ctx, task.BoardID,
				fmt.Sprintf("📎 *%s*: %s attachments", task.Title, signed(d)),
				notify.SendOptions{Kind: model.DeliveryKindStats, CardID: task.CardID})
		}
	}

	changed := !exists ||
		prev.CommentsCount != task.CommentsCount ||
		prev.AttachmentsCount != task.AttachmentsCount
	if !changed {
		return nil
	}

	return e.store.UpsertStats(ctx, model.TaskStats{
		CardID:           task.CardID,
		CommentsCount:    task.CommentsCount,
		AttachmentsCount: task.AttachmentsCount,
	})
}

// reconcileAssignees persists newly observed assignees (the link set is
// append-only) and sends a full task detail to each newly linked login
// that resolves to a recipient. Returns the set of newly linked logins.
func (e *Engine) reconcileAssignees(ctx context.Context, task model.TaskSnapshot, st *cycleState, muted bool) map[string]struct{} {
	known := st.links[task.CardID]
	newLinks := make(map[string]struct{})

	for _, login := range task.Assignees {
		if _, ok := known[login]; ok {
			continue
		}
		if err := e.store.AddAssigneeLink(ctx, task.CardID, login); err != nil {
			e.logger.Error("sync: saving assignee failed",
				"card", task.CardID, "login", login, "error", err)
			continue
		}
		newLinks[login] = struct{}{}

		if muted {
			continue
		}
		if chatID, ok := st.recipients[login]; ok {
			e.sender.Send(ctx, chatID, e.formatDetail(task), notify.SendOptions{
				Keyboard: moveKeyboard(task),
				Kind:     model.DeliveryKindNewTask,
				CardID:   task.CardID,
			})
		}
	}

	return newLinks
}

// dispatch sends the new-task or itemized-update notifications to the
// resolved assignees and the bound channel thread.
func (e *Engine) dispatch(ctx context.Context, task model.TaskSnapshot, cs changeSet, st *cycleState, newLinks map[string]struct{}) {
	if cs.isNew {
		for _, login := range task.Assignees {
			if _, justLinked := newLinks[login]; justLinked {
				// Already received the detail via the new-link path.
				continue
			}
			if chatID, ok := st.recipients[login]; ok {
				e.sender.Send(ctx, chatID, e.formatDetail(task), notify.SendOptions{
					Keyboard: moveKeyboard(task),
					Kind:     model.DeliveryKindNewTask,
					CardID:   task.CardID,
				})
			}
		}

		e.sender.SendLog(ctx, task.BoardID,
			fmt.Sprintf("🆕 *New task*: %s\nBoard: %s\nColumn: %s\nDue: `%s`",
				task.Title, task.BoardTitle, task.StackTitle,
				e.formatDueMinute(task.DueDate)),
			notify.SendOptions{Kind: model.DeliveryKindNewTask, CardID: task.CardID})
		return
	}

	if len(cs.lines) == 0 {
		return
	}

	body := fmt.Sprintf("✏️ *Card updated* «%s» — ID `%d`:\n%s",
		task.Title, task.CardID, strings.Join(cs.lines, "\n"))

	for _, login := range task.Assignees {
		if chatID, ok := st.recipients[login]; ok {
			e.sender.Send(ctx, chatID, body, notify.SendOptions{
				Kind:   model.DeliveryKindUpdate,
				CardID: task.CardID,
			})
		}
	}
	e.sender.SendLog(ctx, task.BoardID, body,
		notify.SendOptions{Kind: model.DeliveryKindUpdate, CardID: task.CardID})
}

// formatDetail renders the full task card sent on first assignment.
func (e *Engine) formatDetail(t model.TaskSnapshot) string {
	desc := t.Description
	if desc == "" {
		desc = "—"
	}
	return fmt.Sprintf("🆕 New task: *%s*\nBoard: %s\nColumn: %s\nDue: %s\n%s",
		t.Title, t.BoardTitle, t.StackTitle, e.formatDueMinute(t.DueDate), desc)
}

// formatDueMinute renders a due instant at minute granularity in the team
// timezone; nil renders as an em dash so nil-vs-set compares as changed.
func (e *Engine) formatDueMinute(t *time.Time) string {
	if t == nil {
		return "—"
	}
	return t.In(e.cfg.Timezone).Format("06-01-02 15:04")
}

func (e *Engine) isMuted(cardID int64) bool {
	_, ok := e.cfg.Muted[cardID]
	return ok
}

// moveKeyboard builds the adjacent-column move affordances for a card.
func moveKeyboard(t model.TaskSnapshot) *notify.Keyboard {
	var rows [][]notify.Button
	if t.PrevStackID != nil {
		rows = append(rows, []notify.Button{{
			Text: "⬅ " + *t.PrevStackTitle,
			CallbackData: fmt.Sprintf("move:%d:%d:%d:%d",
				t.BoardID, t.StackID, t.CardID, *t.PrevStackID),
		}})
	}
	if t.NextStackID != nil {
		rows = append(rows, []notify.Button{{
			Text: "➡ " + *t.NextStackTitle,
			CallbackData: fmt.Sprintf("move:%d:%d:%d:%d",
				t.BoardID, t.StackID, t.CardID, *t.NextStackID),
		}})
	}
	if len(rows) == 0 {
		return nil
	}
	return &notify.Keyboard{Rows: rows}
}

// labelDiff returns labels only in cur (added) and only in prev (removed).
func labelDiff(prev, cur []string) (added, removed []string) {
	prevSet := make(map[string]bool, len(prev))
	for _, l := range prev {
		prevSet[l] = true
	}
	curSet := make(map[string]bool, len(cur))
	for _, l := range cur {
		curSet[l] = true
	}
	for _, l := range cur {
		if !prevSet[l] {
			added = append(added, l)
		}
	}
	for _, l := range prev {
		if !curSet[l] {
			removed = append(removed, l)
		}
	}
	return added, removed
}

// signed formats a delta with an explicit sign.
func signed(d int) string {
	if d > 0 {
		return fmt.Sprintf("+%d", d)
	}
	return fmt.Sprintf("%d", d)
}
