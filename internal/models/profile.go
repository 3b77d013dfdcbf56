package models

import "time"

// Placeholders for the child record created at first login.
const (
	DefaultChildName  = "My Child"
	DefaultSchoolCity = "Not specified"
)

type Child struct {
	ChildID    string `json:"childId" dynamodbav:"childId"`
	Name       string `json:"name" dynamodbav:"name"`
	SchoolCity string `json:"schoolCity" dynamodbav:"schoolCity"`
}

// UserProfile is the household profile keyed by the identity provider's
// stable user id. At most one exists per user id.
type UserProfile struct {
	UserID       string    `json:"userId" dynamodbav:"userId"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
	Children     []Child   `json:"children" dynamodbav:"children"`
	ConsentGiven bool      `json:"consentGiven" dynamodbav:"consentGiven"`
}
