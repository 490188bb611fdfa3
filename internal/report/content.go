package report

import (
	"fmt"

	"github.com/example/pulseai/internal/emotion"
)

// Title heads every report.
const Title = "PulseAI - Emotion Detection Report"

// Input is everything a report is built from.
type Input struct {
	// ReportID is printed on the report and used in its filename. Render
	// assigns a fresh one when empty.
	ReportID   string
	Prediction emotion.Prediction
	TopLabel   emotion.Label
	Insight    emotion.Insight
	Alerts     []emotion.Alert
}

// Content is the ordered text of a report, independent of its rendering.
type Content struct {
	Title       string
	Identifier  string
	Scores      []string
	TopLine     string
	Description string
	Suggestion  string
	Advisories  []string
}

// BuildContent formats in. The top label must be the argmax of the prediction.
func BuildContent(in Input) (Content, error) {
	top, _, err := in.Prediction.Top()
	if err != nil {
		return Content{}, err
	}
	if in.TopLabel != top {
		return Content{}, fmt.Errorf("%w: top label %q, prediction argmax %q", emotion.ErrInvalidPrediction, in.TopLabel, top)
	}

	c := Content{
		Title:       Title,
		TopLine:     fmt.Sprintf("Predicted Emotion: %s", top),
		Description: in.Insight.Description,
		Suggestion:  in.Insight.Suggestion,
	}
	if in.ReportID != "" {
		c.Identifier = fmt.Sprintf("Report ID: %s", in.ReportID)
	}
	for _, s := range in.Prediction.Scores() {
		c.Scores = append(c.Scores, fmt.Sprintf("%s: %s", s.Label, s.Percent))
	}
	for _, a := range in.Alerts {
		c.Advisories = append(c.Advisories, a.Message)
	}
	return c, nil
}

// Lines returns the content in print order.
func (c Content) Lines() []string {
	lines := []string{c.Title}
	if c.Identifier != "" {
		lines = append(lines, c.Identifier)
	}
	lines = append(lines, c.Scores...)
	lines = append(lines, c.TopLine, c.Description, c.Suggestion)
	return append(lines, c.Advisories...)
}
