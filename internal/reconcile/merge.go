// Package reconcile merges the persisted, streaming and optimistic message
// sources of a conversation into one ordered, de-duplicated timeline.
//
// Merge is a pure function of its input. Sources never share identifiers, so
// duplicates are detected by content rather than by ID.
package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/capitalize-ai/stylist-engine/internal/directive"
	"github.com/capitalize-ai/stylist-engine/internal/model"
)

const (
	// GreetingID identifies the synthesized greeting entry.
	GreetingID = "greeting"

	// NoMatchMarker is present in every no-match message body.
	NoMatchMarker = "couldn't find"
)

// Input is one snapshot of every message source.
type Input struct {
	// Persisted is the durable thread log, in store order.
	Persisted []model.Message

	// Streaming holds the in-flight assistant turn. Only the last assistant
	// entry is considered, and only while StreamStatus is streaming.
	Streaming    []model.Message
	StreamStatus model.StreamStatus

	// Optimistic holds user entries not yet confirmed by the store.
	Optimistic []model.Message

	// Pending holds finished assistant replies not yet confirmed by the store.
	Pending []model.Message

	// Pipeline is the result or no-match entry synthesized by the last run.
	Pipeline *model.Message

	State   model.ConversationState
	Profile model.UserProfile

	// Now stamps the greeting entry.
	Now time.Time
}

type merger struct {
	out  []model.Message
	seen map[string]struct{}
}

// Merge produces the display timeline for in. It never mutates in.
func Merge(in Input) []model.Message {
	m := &merger{
		out:  make([]model.Message, 0, len(in.Persisted)+len(in.Optimistic)+len(in.Pending)+2),
		seen: make(map[string]struct{}),
	}

	for _, rec := range in.Persisted {
		msg := Classify(rec)
		if msg.Kind == model.KindText && msg.Content == "" {
			continue
		}
		m.add(msg)
	}

	if in.StreamStatus == model.StreamStreaming {
		if last, ok := lastAssistant(in.Streaming); ok {
			msg := last
			msg.Kind = model.KindText
			msg.Content = directive.Strip(last.Content)
			if msg.Content != "" {
				m.add(msg)
			}
		}
	}

	m.addLocal(in.Optimistic, model.RoleUser)
	m.addLocal(in.Pending, model.RoleAssistant)

	if in.Pipeline != nil {
		msg := Classify(*in.Pipeline)
		switch msg.Kind {
		case model.KindResultReady:
			if !m.hasOutfitSet(msg.OutfitIDs) {
				m.add(msg)
			}
		case model.KindNoMatch:
			if !m.hasNoMatch() {
				m.add(msg)
			}
		}
	}

	if len(m.out) == 0 && in.State != model.StateAwaitingReply {
		m.add(Greeting(in.Profile, in.Now))
	}

	sort.SliceStable(m.out, func(i, j int) bool {
		return m.out[i].CreatedAt.Before(m.out[j].CreatedAt)
	})

	return m.out
}

// Classify maps a stored record to its display kind and strips directive markup.
func Classify(rec model.Message) model.Message {
	msg := rec
	switch {
	case len(rec.OutfitIDs) > 0:
		msg.Kind = model.KindResultReady
	case rec.Type == model.MessageTypeNoMatch:
		msg.Kind = model.KindNoMatch
	default:
		msg.Kind = model.KindText
	}
	msg.Content = directive.Strip(rec.Content)
	return msg
}

// Greeting builds the entry shown when a conversation has nothing else to render.
func Greeting(profile model.UserProfile, now time.Time) model.Message {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = "there"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s! I'm your personal stylist.", name)

	prefs := topPreferences(profile.StylePreferences, 2)
	switch len(prefs) {
	case 1:
		fmt.Fprintf(&b, " I see you love %s style.", prefs[0])
	case 2:
		fmt.Fprintf(&b, " I see you love %s and %s styles.", prefs[0], prefs[1])
	}
	b.WriteString(" Tell me where you're headed and I'll put together a few looks for you.")

	return model.Message{
		ID:        GreetingID,
		Role:      model.RoleAssistant,
		Kind:      model.KindText,
		Content:   b.String(),
		CreatedAt: now,
	}
}

func (m *merger) add(msg model.Message) {
	key := contentKey(msg)
	if _, dup := m.seen[key]; dup {
		return
	}
	m.seen[key] = struct{}{}
	m.out = append(m.out, msg)
}

func (m *merger) addLocal(msgs []model.Message, role model.Role) {
	for _, local := range msgs {
		if local.Role != role {
			continue
		}
		msg := local
		msg.Kind = model.KindText
		msg.Content = directive.Strip(local.Content)
		if msg.Content != "" {
			m.add(msg)
		}
	}
}

func (m *merger) hasOutfitSet(ids []string) bool {
	want := outfitSetKey(ids)
	for _, msg := range m.out {
		if msg.Kind == model.KindResultReady && outfitSetKey(msg.OutfitIDs) == want {
			return true
		}
	}
	return false
}

func (m *merger) hasNoMatch() bool {
	for _, msg := range m.out {
		if msg.Role == model.RoleAssistant && strings.Contains(msg.Content, NoMatchMarker) {
			return true
		}
	}
	return false
}

// contentKey is the identity used for de-duplication. Result entries also
// carry their outfit set so two searches with the same copy both survive.
func contentKey(msg model.Message) string {
	key := string(msg.Role) + "\x00" + msg.Content
	if msg.Kind == model.KindResultReady {
		key += "\x00" + outfitSetKey(msg.OutfitIDs)
	}
	return key
}

func outfitSetKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func lastAssistant(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

func topPreferences(prefs []string, n int) []string {
	out := make([]string, 0, n)
	for _, p := range prefs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}
