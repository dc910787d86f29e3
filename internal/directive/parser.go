// Package directive extracts action directives embedded in assistant text.
//
// An assistant turn may end with one bracketed command:
//
//	[MATCH_ITEMS:<occasion>]
//	[REMIX_LOOK:<occasion>|<twist>]
//
// Directives drive the outfit pipeline and are never shown to the user.
package directive

import (
	"regexp"
	"strings"

	"github.com/capitalize-ai/stylist-engine/internal/model"
)

var (
	matchItemsPattern = regexp.MustCompile(`\[MATCH_ITEMS:([^\]]*)\]`)
	remixLookPattern  = regexp.MustCompile(`\[REMIX_LOOK:([^\]|]*)\|([^\]]*)\]`)

	// markupPattern also covers the legacy markers that no longer trigger anything.
	markupPattern = regexp.MustCompile(`[ \t]*\[(?:(?:MATCH_ITEMS|REMIX_LOOK|MIX_LOOKS):[^\]]*|SEARCH_READY)\]`)
)

// Parse returns the directive carried by a completed assistant turn.
// MATCH_ITEMS is checked before REMIX_LOOK, so text carrying both yields MatchItems.
func Parse(text string) (model.Directive, bool) {
	if m := matchItemsPattern.FindStringSubmatch(text); m != nil {
		occasion := strings.TrimSpace(m[1])
		if occasion != "" {
			return model.Directive{
				Type:     model.DirectiveMatchItems,
				Occasion: occasion,
			}, true
		}
	}

	if m := remixLookPattern.FindStringSubmatch(text); m != nil {
		source := strings.TrimSpace(m[1])
		twist := strings.TrimSpace(m[2])
		if source != "" {
			return model.Directive{
				Type:           model.DirectiveRemixLook,
				SourceOccasion: source,
				Twist:          twist,
			}, true
		}
	}

	return model.Directive{}, false
}

// Strip removes all directive markup from text meant for display.
func Strip(text string) string {
	return strings.TrimSpace(markupPattern.ReplaceAllString(text, ""))
}
