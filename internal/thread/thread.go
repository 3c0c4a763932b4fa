// Package thread groups messages into reply threads and orders the result
// deterministically.
package thread

import (
	"sort"

	"github.com/chatvault/chatvault/internal/platform"
)

// Group is one thread: a root message plus its transitively linked replies,
// ordered by timestamp.
type Group struct {
	ThreadID string
	Messages []platform.Message
}

// Reconstruct resolves each message's thread root by walking parent links
// and returns groups ordered by each group's earliest member. Orphan
// chains, whose true root lies outside the message set, root at their
// earliest reachable member. The walk carries a visited set so a
// pathological parent cycle degrades to an orphan root instead of looping.
// Output is deterministic for a given input set regardless of input order,
// and running it again over the result changes nothing.
func Reconstruct(msgs []platform.Message) []Group {
	index := make(map[string]platform.Message, len(msgs))
	for _, m := range msgs {
		index[m.ID] = m
	}

	roots := make(map[string]string, len(msgs))
	for _, m := range msgs {
		roots[m.ID] = resolveRoot(m, index)
	}

	return group(msgs, func(m platform.Message) string { return roots[m.ID] })
}

// Native groups messages by their platform-supplied thread identifier.
// Messages that are not replies root their own thread.
func Native(msgs []platform.Message) []Group {
	return group(msgs, func(m platform.Message) string {
		if m.ParentID != "" {
			return m.ParentID
		}
		return m.ID
	})
}

// Flatten returns the groups' messages as one ordered list.
func Flatten(groups []Group) []platform.Message {
	var out []platform.Message
	for _, g := range groups {
		out = append(out, g.Messages...)
	}
	return out
}

func group(msgs []platform.Message, rootOf func(platform.Message) string) []Group {
	byRoot := make(map[string][]platform.Message)
	for _, m := range msgs {
		id := rootOf(m)
		m.ThreadID = id
		byRoot[id] = append(byRoot[id], m)
	}

	groups := make([]Group, 0, len(byRoot))
	for id, members := range byRoot {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].Timestamp.Equal(members[j].Timestamp) {
				return members[i].Timestamp.Before(members[j].Timestamp)
			}
			return members[i].ID < members[j].ID
		})
		groups = append(groups, Group{ThreadID: id, Messages: members})
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Messages[0], groups[j].Messages[0]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return groups[i].ThreadID < groups[j].ThreadID
	})
	return groups
}

// resolveRoot walks m's parent chain until it reaches a message with no
// parent, a parent missing from the set, or a previously visited message.
func resolveRoot(m platform.Message, index map[string]platform.Message) string {
	visited := map[string]bool{m.ID: true}
	cur := m
	for {
		if cur.ParentID == "" {
			return cur.ID
		}
		parent, ok := index[cur.ParentID]
		if !ok {
			// Orphan chain: the true root is outside the fetched
			// window, so the earliest reachable message stands in.
			return cur.ID
		}
		if visited[parent.ID] {
			return cur.ID
		}
		visited[parent.ID] = true
		cur = parent
	}
}
