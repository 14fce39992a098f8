package domain

import "time"

// SendOutcome is the state change recorded after a successful send.
type SendOutcome struct {
	Decision       Decision
	FollowupNumber int
	MaxFollowups   int
	At             time.Time
	Details        string
}
