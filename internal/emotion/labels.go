package emotion

import (
	"errors"
	"fmt"
	"strings"
)

// Label names one emotion class produced by the classifier.
type Label string

const (
	Angry Label = "Angry"
	Fear  Label = "Fear"
	Happy Label = "Happy"
	Sad   Label = "Sad"
)

// labelOrder is the classifier output order. Index i of every Prediction
// refers to labelOrder[i].
var labelOrder = [...]Label{Angry, Fear, Happy, Sad}

// LabelCount is the number of classes every Prediction carries.
const LabelCount = len(labelOrder)

// Labels returns the classifier output order. The result is a copy; consumers
// index through it instead of restating the order.
func Labels() []Label {
	out := make([]Label, LabelCount)
	copy(out, labelOrder[:])
	return out
}

var (
	// ErrUnknownLabel reports a label outside Labels.
	ErrUnknownLabel = errors.New("emotion: unknown label")
	// ErrInvalidPrediction reports a classifier output that breaks the label contract.
	ErrInvalidPrediction = errors.New("emotion: invalid prediction vector")
	// ErrConfiguration reports an invalid alert rule.
	ErrConfiguration = errors.New("emotion: invalid configuration")
)

// Index returns the position of label in Labels, or -1.
func Index(label Label) int {
	for i, l := range labelOrder {
		if l == label {
			return i
		}
	}
	return -1
}

// ParseLabel resolves a label name case-insensitively.
func ParseLabel(name string) (Label, error) {
	name = strings.TrimSpace(name)
	for _, l := range labelOrder {
		if strings.EqualFold(string(l), name) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLabel, name)
}

// ParseLabels parses a comma separated label list, skipping blanks.
func ParseLabels(list string) ([]Label, error) {
	var out []Label
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		l, err := ParseLabel(part)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// SameOrder reports whether names lists exactly Labels in the same order.
func SameOrder(names []string) bool {
	if len(names) != LabelCount {
		return false
	}
	for i, n := range names {
		if n != string(labelOrder[i]) {
			return false
		}
	}
	return true
}
