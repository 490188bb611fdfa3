package emotion

import "fmt"

// Insight is the static guidance shown for a predicted label.
type Insight struct {
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

var insights = map[Label]Insight{
	Angry: {
		Description: "The drawing shows signs of anger or frustration, such as heavy strokes, sharp shapes, or dominant dark and red tones.",
		Suggestion:  "Give the child a calm moment to talk about the drawing. Ask what is happening in it and acknowledge the feeling before looking for causes. Physical play and predictable routines help children release tension.",
	},
	Fear: {
		Description: "The drawing suggests fear or worry, for example small or hidden figures, closed spaces, or threatening elements.",
		Suggestion:  "Reassure the child that they are safe and invite them to describe what the figures are feeling. Keep the conversation gentle and open-ended. If fearful themes repeat over several drawings, consider talking to a school counsellor or child psychologist.",
	},
	Happy: {
		Description: "The drawing reflects a positive emotional state, with bright colours, open figures, and lively scenes.",
		Suggestion:  "Encourage the child to keep drawing and to tell the story behind the picture. Praise the effort rather than the result and share in the moment.",
	},
	Sad: {
		Description: "The drawing may express sadness or loneliness, such as isolated figures, empty space, or muted colours.",
		Suggestion:  "Spend unhurried time with the child and ask how the people in the drawing feel. Listen without correcting. If sadness persists or shows up in behaviour, sleep, or appetite, seek advice from a specialist.",
	},
}

// LookupInsight returns the insight for label. Every member of Labels has one,
// so an error means the caller broke the label contract.
func LookupInsight(label Label) (Insight, error) {
	in, ok := insights[label]
	if !ok {
		return Insight{}, fmt.Errorf("%w: no insight for %q", ErrUnknownLabel, label)
	}
	return in, nil
}
