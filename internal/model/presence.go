package model

import "time"

// Member is the wire representation of one identity present in a case.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Presence is the registry's record for a single live connection. The
// registry exclusively owns these records.
type Presence struct {
	IdentityID     string
	DisplayName    string
	Color          string
	CaseID         int64
	JoinedAt       time.Time
	LastActivityAt time.Time
	Authenticated  bool
}
