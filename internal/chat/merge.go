package chat

import (
	"sort"
	"time"

	"agent-console/internal/types"
)

type timelineEntry struct {
	msg   types.ChatMessage
	at    time.Time
	valid bool
	rank  int
}

// Merge interleaves locally authored user messages with derived agent
// messages, oldest first. On equal timestamps user messages come first.
// Entries with unparseable timestamps go last; input order is otherwise kept.
func Merge(user, agent []types.ChatMessage) []types.ChatMessage {
	entries := make([]timelineEntry, 0, len(user)+len(agent))
	for _, msg := range user {
		entries = append(entries, newTimelineEntry(msg, 0))
	}
	for _, msg := range agent {
		entries = append(entries, newTimelineEntry(msg, 1))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.valid != b.valid {
			return a.valid
		}
		if a.valid && !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.rank < b.rank
	})

	out := make([]types.ChatMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// Timeline derives agent messages from a session and merges them with the
// user's cached messages.
func Timeline(user []types.ChatMessage, session *types.Session, now time.Time) []types.ChatMessage {
	var agent []types.ChatMessage
	if session != nil {
		agent = DeriveAll(session.Decisions, now)
	}
	return Merge(user, agent)
}

func newTimelineEntry(msg types.ChatMessage, rank int) timelineEntry {
	at, ok := ParseTimestamp(msg.Timestamp)
	return timelineEntry{msg: msg, at: at, valid: ok, rank: rank}
}
