package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

func TestTimelinePrinter(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := newTimelinePrinter(&buf)
	p.markSeen("rooftop party")

	msgs := []model.Message{
		{ID: "1", Role: model.RoleUser, Kind: model.KindText, Content: "rooftop party"},
		{ID: "2", Role: model.RoleAssistant, Kind: model.KindText, Content: "On it!"},
		{ID: "3", Role: model.RoleAssistant, Kind: model.KindResultReady, Content: "Found 2 perfect looks for you!", OutfitIDs: []string{"a", "b"}},
	}
	p.print(msgs)

	out := buf.String()
	assert.NotContains(t, out, "You: rooftop party")
	assert.Contains(t, out, "Stylist: On it!")
	assert.Contains(t, out, "outfits: a, b")

	buf.Reset()
	p.print(msgs)
	assert.Equal(t, "\n", buf.String())

	p.reset()
	buf.Reset()
	p.print(msgs[:1])
	assert.Contains(t, buf.String(), "You: rooftop party")
}
