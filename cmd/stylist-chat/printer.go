package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

// timelinePrinter writes timeline entries the terminal has not shown yet.
type timelinePrinter struct {
	out  io.Writer
	seen map[string]bool
}

func newTimelinePrinter(out io.Writer) *timelinePrinter {
	return &timelinePrinter{out: out, seen: make(map[string]bool)}
}

func (p *timelinePrinter) reset() {
	p.seen = make(map[string]bool)
}

// markSeen records a user entry typed at the prompt so it is not echoed.
func (p *timelinePrinter) markSeen(text string) {
	p.seen[key(model.Message{Role: model.RoleUser, Kind: model.KindText, Content: text})] = true
}

func (p *timelinePrinter) print(msgs []model.Message) {
	for _, m := range msgs {
		k := key(m)
		if p.seen[k] {
			continue
		}
		p.seen[k] = true

		switch {
		case m.Role == model.RoleUser:
			fmt.Fprintf(p.out, "%s%s\n", youLabel("You: "), m.Content)
		case m.Kind == model.KindResultReady:
			fmt.Fprintf(p.out, "%s%s\n", stylistLabel("Stylist: "), resultStyle(m.Content))
			fmt.Fprintf(p.out, "  %s\n", faint("outfits: "+strings.Join(m.OutfitIDs, ", ")))
		case m.Kind == model.KindNoMatch:
			fmt.Fprintf(p.out, "%s%s\n", stylistLabel("Stylist: "), noticeStyle(m.Content))
		default:
			fmt.Fprintf(p.out, "%s%s\n", stylistLabel("Stylist: "), m.Content)
		}
	}
	fmt.Fprintln(p.out)
}

// key identifies an entry by what it shows; streaming and persisted copies
// of the same reply share a key.
func key(m model.Message) string {
	return string(m.Role) + "|" + string(m.Kind) + "|" + m.Content + "|" + strings.Join(m.OutfitIDs, ",")
}
