package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DraftStatus is the closed set of draft lifecycle states.
type DraftStatus uint8

const (
	DraftPending DraftStatus = iota + 1
	DraftApproved
	DraftRejected
	DraftApplied
)

var draftStatusNames = []string{
	DraftPending:  "pending",
	DraftApproved: "approved",
	DraftRejected: "rejected",
	DraftApplied:  "applied",
}

func (s DraftStatus) Valid() bool    { return s >= DraftPending && s <= DraftApplied }
func (s DraftStatus) String() string { return statusName(draftStatusNames, uint8(s)) }
func (s DraftStatus) MarshalText() ([]byte, error) {
	return marshalStatus("draft", draftStatusNames, uint8(s))
}
func (s *DraftStatus) UnmarshalText(b []byte) error {
	v, err := ParseDraftStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition is possible.
func (s DraftStatus) Terminal() bool { return s == DraftRejected || s == DraftApplied }

func ParseDraftStatus(raw string) (DraftStatus, error) {
	v, err := parseStatus("draft", draftStatusNames, raw)
	return DraftStatus(v), err
}

// QuestionStatus is the closed set of escalated question states.
type QuestionStatus uint8

const (
	QuestionEscalated QuestionStatus = iota + 1
	QuestionOnHold
	QuestionAnswered
)

var questionStatusNames = []string{
	QuestionEscalated: "escalated",
	QuestionOnHold:    "on_hold",
	QuestionAnswered:  "answered",
}

func (s QuestionStatus) Valid() bool    { return s >= QuestionEscalated && s <= QuestionAnswered }
func (s QuestionStatus) String() string { return statusName(questionStatusNames, uint8(s)) }
func (s QuestionStatus) MarshalText() ([]byte, error) {
	return marshalStatus("question", questionStatusNames, uint8(s))
}
func (s *QuestionStatus) UnmarshalText(b []byte) error {
	v, err := ParseQuestionStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseQuestionStatus(raw string) (QuestionStatus, error) {
	v, err := parseStatus("question", questionStatusNames, raw)
	return QuestionStatus(v), err
}

// FeatureStatus is the closed set of feature suggestion states.
type FeatureStatus uint8

const (
	FeatureOpen FeatureStatus = iota + 1
	FeaturePlanned
	FeatureInProgress
	FeatureCompleted
	FeatureRejected
)

var featureStatusNames = []string{
	FeatureOpen:       "open",
	FeaturePlanned:    "planned",
	FeatureInProgress: "in_progress",
	FeatureCompleted:  "completed",
	FeatureRejected:   "rejected",
}

func (s FeatureStatus) Valid() bool    { return s >= FeatureOpen && s <= FeatureRejected }
func (s FeatureStatus) String() string { return statusName(featureStatusNames, uint8(s)) }
func (s FeatureStatus) MarshalText() ([]byte, error) {
	return marshalStatus("feature", featureStatusNames, uint8(s))
}
func (s *FeatureStatus) UnmarshalText(b []byte) error {
	v, err := ParseFeatureStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseFeatureStatus(raw string) (FeatureStatus, error) {
	v, err := parseStatus("feature", featureStatusNames, raw)
	return FeatureStatus(v), err
}

func statusName(names []string, v uint8) string {
	if v == 0 || int(v) >= len(names) {
		return "unknown"
	}
	return names[v]
}

func marshalStatus(kind string, names []string, v uint8) ([]byte, error) {
	if v == 0 || int(v) >= len(names) {
		return nil, fmt.Errorf("%w: %s status %d", ErrUnknownStatus, kind, v)
	}
	return []byte(names[v]), nil
}

func parseStatus(kind string, names []string, raw string) (uint8, error) {
	for i := 1; i < len(names); i++ {
		if names[i] == raw {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s status %q", ErrUnknownStatus, kind, raw)
}
