package pagination

// Texts are the user facing strings of a walkthrough
type Texts struct {
	Next string
	// ItemFailed is sent when a content item could not be delivered; it carries the control when there is one
	ItemFailed string
	// AdCountdown is formatted with the pacing delay in seconds
	AdCountdown string
	// Processing answers a Next press while the previous one is still running
	Processing string
}

// DefaultTexts returns the built-in English texts
func DefaultTexts() Texts {
	return Texts{
		Next:        "Next ▶",
		ItemFailed:  "⚠️ This item failed to load",
		AdCountdown: "⏳ Ad is showing, continuing in %d seconds...",
		Processing:  "Processing...",
	}
}
