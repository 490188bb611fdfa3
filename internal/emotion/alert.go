package emotion

import "fmt"

// DefaultAlertThreshold is used when no threshold is configured.
const DefaultAlertThreshold float32 = 0.6

// DefaultNegativeLabels are the labels watched by the default alert rule.
var DefaultNegativeLabels = []Label{Fear, Sad}

// Alert is an advisory raised for a negative label above the threshold.
type Alert struct {
	Label       Label   `json:"label"`
	Probability float32 `json:"probability"`
	Threshold   float32 `json:"threshold"`
	Message     string  `json:"message"`
}

// AlertRule flags negative labels whose probability exceeds Threshold,
// regardless of which label ranks first.
type AlertRule struct {
	negative  []Label
	threshold float32
}

// NewAlertRule validates the watched labels and threshold.
func NewAlertRule(negative []Label, threshold float32) (*AlertRule, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: alert threshold %v outside [0,1]", ErrConfiguration, threshold)
	}
	seen := make(map[Label]bool, len(negative))
	ordered := make([]Label, 0, len(negative))
	for _, l := range labelOrder {
		for _, n := range negative {
			if n == l && !seen[l] {
				seen[l] = true
				ordered = append(ordered, l)
			}
		}
	}
	for _, n := range negative {
		if Index(n) < 0 {
			return nil, fmt.Errorf("%w: alert label %q", ErrConfiguration, n)
		}
	}
	return &AlertRule{negative: ordered, threshold: threshold}, nil
}

// Threshold returns the configured threshold.
func (r *AlertRule) Threshold() float32 { return r.threshold }

// Negative returns the watched labels in label order.
func (r *AlertRule) Negative() []Label {
	return append([]Label(nil), r.negative...)
}

// Evaluate returns one alert per watched label strictly above the threshold.
func (r *AlertRule) Evaluate(p Prediction) ([]Alert, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var alerts []Alert
	for _, l := range r.negative {
		v, err := p.Probability(l)
		if err != nil {
			return nil, err
		}
		if v > r.threshold {
			alerts = append(alerts, Alert{
				Label:       l,
				Probability: v,
				Threshold:   r.threshold,
				Message: fmt.Sprintf("%s probability %s is above %s; consider following up with the child.",
					l, FormatPercent(v), FormatPercent(r.threshold)),
			})
		}
	}
	return alerts, nil
}
