package usecase

import (
	"fmt"
	"time"

	"github.com/example/pulseai/internal/emotion"
)

// State is a step of the analyze-and-report flow.
type State string

const (
	StateIdle            State = "idle"
	StateImageReceived   State = "image_received"
	StateNormalized      State = "normalized"
	StateClassified      State = "classified"
	StateReportRequested State = "report_requested"
	StateReportDelivered State = "report_delivered"
)

var transitions = map[State][]State{
	StateIdle:            {StateImageReceived},
	StateImageReceived:   {StateNormalized, StateIdle},
	StateNormalized:      {StateClassified, StateIdle},
	StateClassified:      {StateReportRequested},
	StateReportRequested: {StateReportDelivered, StateClassified},
	StateReportDelivered: {StateReportRequested},
}

// Session is the per-upload record. It never holds the image or the tensor.
type Session struct {
	ID           string             `json:"id"`
	State        State              `json:"state"`
	Prediction   emotion.Prediction `json:"prediction,omitempty"`
	TopLabel     emotion.Label      `json:"top_label,omitempty"`
	Insight      emotion.Insight    `json:"insight"`
	Alerts       []emotion.Alert    `json:"alerts,omitempty"`
	ReportCount  int                `json:"report_count"`
	LastReportID string             `json:"last_report_id,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewSession returns an idle session.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, State: StateIdle, CreatedAt: now, UpdatedAt: now}
}

// CanTransition reports whether next may follow the current state.
func (s *Session) CanTransition(next State) bool {
	for _, allowed := range transitions[s.State] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the session to next.
func (s *Session) Transition(next State, now time.Time) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	s.State = next
	s.UpdatedAt = now
	return nil
}

// Terminal reports whether the session has reached an end state.
func (s *Session) Terminal() bool {
	return s.State == StateClassified || s.State == StateReportDelivered
}
