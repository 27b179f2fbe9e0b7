package model

// Stage is a named point in the deadline escalation sequence.
type Stage string

const (
	StagePre7d      Stage = "pre_7d"
	StagePre24h     Stage = "pre_24h"
	StagePre2h      Stage = "pre_2h"
	StageDue        Stage = "due"
	StagePost2h     Stage = "post_2h"
	StagePost24h    Stage = "post_24h"
	StagePostRepeat Stage = "post_repeat"
)

// FixedStages lists the non-repeating stages in escalation order.
var FixedStages = []Stage{
	StagePre7d, StagePre24h, StagePre2h,
	StageDue, StagePost2h, StagePost24h,
}

var fixedRank = func() map[Stage]int {
	m := make(map[Stage]int, len(FixedStages))
	for i, s := range FixedStages {
		m[s] = i
	}
	return m
}()

// FixedRank returns the position of a fixed stage in the escalation order,
// or -1 for an unknown stage. StagePostRepeat ranks as StagePost24h because
// a recorded repeat implies every fixed stage has passed.
func (s Stage) FixedRank() int {
	if s == StagePostRepeat {
		return fixedRank[StagePost24h]
	}
	if r, ok := fixedRank[s]; ok {
		return r
	}
	return -1
}

// messagePriority orders batched reminder lines within one message:
// due-adjacent stages first, far-future warnings last.
var messagePriority = map[Stage]int{
	StageDue:        0,
	StagePost2h:     1,
	StagePost24h:    2,
	StagePostRepeat: 3,
	StagePre2h:      4,
	StagePre24h:     5,
	StagePre7d:      6,
}

// MessagePriority returns the sort key used when batching reminder lines
// into a single per-recipient message.
func (s Stage) MessagePriority() int {
	if p, ok := messagePriority[s]; ok {
		return p
	}
	return 9
}
