package models

// Identity accessors used by the generic repository layer.

func (d DraftUpdate) EntityID() string           { return d.ID }
func (d DraftUpdate) EntityVersion() int64       { return d.Version }
func (q PendingQuestion) EntityID() string       { return q.ID }
func (q PendingQuestion) EntityVersion() int64   { return q.Version }
func (f FeatureSuggestion) EntityID() string     { return f.ID }
func (f FeatureSuggestion) EntityVersion() int64 { return f.Version }
