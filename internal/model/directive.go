package model

// DirectiveType identifies an action directive.
type DirectiveType string

const (
	DirectiveMatchItems DirectiveType = "match_items"
	DirectiveRemixLook  DirectiveType = "remix_look"
)

// Directive is a structured instruction extracted from assistant text.
// Occasion is set for MatchItems; SourceOccasion and Twist for RemixLook.
type Directive struct {
	Type           DirectiveType `json:"type"`
	Occasion       string        `json:"occasion,omitempty"`
	SourceOccasion string        `json:"source_occasion,omitempty"`
	Twist          string        `json:"twist,omitempty"`
}
