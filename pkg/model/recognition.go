package model

import (
	"image"
	"time"
)

// Detection is a single face returned by the detection model
type Detection struct {
	Region    image.Rectangle
	Landmarks []image.Point
	Embedding Embedding
}

// MatchResult is the outcome of a successful gallery match. A nil
// *MatchResult means no identity was accepted.
type MatchResult struct {
	IdentityID        IdentityID
	Name              string
	Distance          float64
	ConfidencePercent int
}

type EventKind string

const (
	EventRecognized       EventKind = "recognized"
	EventGreetingEnqueued EventKind = "greeting_enqueued"
	EventGreetingPlayed   EventKind = "greeting_played"
	EventGreetingFailed   EventKind = "greeting_failed"
)

// Event is a recognition or greeting record exported to the event table
type Event struct {
	Kind              EventKind
	IdentityID        IdentityID
	Name              string
	Distance          float64
	ConfidencePercent int
	Message           string
	At                time.Time
}
