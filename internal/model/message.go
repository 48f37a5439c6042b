// Package model defines the core domain models used throughout the application.
package model

import "time"

// RawMessage is one email as fetched from the mailbox.
// It is immutable once fetched.
type RawMessage struct {
	ReceivedAt time.Time
	MessageID  string // Stable, mailbox-unique identifier
	Sender     string
	Subject    string
	BodyText   string
}

// Candidate is a RawMessage tagged by the prefilter.
type Candidate struct {
	FilterReason string
	RawMessage
	IsCandidate bool
}
