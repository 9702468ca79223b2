package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a student's login session (JTI).
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// SessionStartKey returns the cache key holding the unix start time of a
// student's proctored attempt at an assignment.
func (r *CacheKeyStruct) SessionStartKey(assignmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assignment:%s:session_start", studentID, assignmentID)
}

// DraftAnswersKey returns the cache key for a student's autosaved in-progress
// answers (hash of question id -> value).
func (r *CacheKeyStruct) DraftAnswersKey(assignmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assignment:%s:draft_answers", studentID, assignmentID)
}

// DraftContentKey returns the cache key for a student's autosaved free-form
// content field.
func (r *CacheKeyStruct) DraftContentKey(assignmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assignment:%s:draft_content", studentID, assignmentID)
}

// AssignmentPayloadKey returns the cache key for an assignment's student payload.
func (r *CacheKeyStruct) AssignmentPayloadKey(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:payload", assignmentID)
}

var CacheKey = NewCacheKeyStruct()
