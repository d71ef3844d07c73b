package tts

// Voice describes an entry of the synthesis voice catalogue.
type Voice struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Style string `json:"style"`
}

var catalogue = []Voice{
	{ID: "en-US-amara", Name: "Amara", Style: "Conversational"},
	{ID: "en-US-jenny", Name: "Jenny", Style: "Professional"},
	{ID: "en-US-mike", Name: "Mike", Style: "Casual"},
	{ID: "en-IN-priya", Name: "Priya", Style: "Friendly"},
	{ID: "en-GB-charles", Name: "Charles", Style: "Formal"},
}

// Voices returns a copy of the static voice catalogue.
func Voices() []Voice {
	out := make([]Voice, len(catalogue))
	copy(out, catalogue)
	return out
}
