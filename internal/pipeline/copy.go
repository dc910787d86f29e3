package pipeline

import (
	"fmt"
)

// Progress labels shown while a run is active.
const (
	LabelCurating        = "Curating based on your preferences..."
	LabelRemixing        = "Remixing your look..."
	LabelGenerating      = "Creating the new you..."
	LabelRemixGenerating = "Creating your remixed look..."
)

func freshResultCopy(n int) string {
	return fmt.Sprintf("Found %d perfect looks for you!", n)
}

func mixedResultCopy(n int) string {
	return fmt.Sprintf("Found %d looks — some remixed from your previous styles!", n)
}

func remixResultCopy(twist string) string {
	return fmt.Sprintf("I've remixed your look with a %s twist!", twist)
}

func noMatchCopy(occasion, reason string) string {
	if reason == ReasonNoPhoto {
		return "I couldn't find a reference photo for your try-on. " +
			"Upload a photo in your profile and ask me again, or browse the catalog to pick pieces yourself in the meantime."
	}
	return fmt.Sprintf("I couldn't find any outfits that match %q right now. "+
		"Try describing the occasion in different words, or use broader terms like \"dinner\" or \"casual\". "+
		"You can also browse the catalog to pick pieces yourself.", occasion)
}
