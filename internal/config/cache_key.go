package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionStartKey holds the unix start time of a student's live attempt.
func (r *CacheKeyStruct) SessionStartKey(examID, studentID string) string {
	return fmt.Sprintf("student:%s:exam:%s:session_start", studentID, examID)
}

// DraftAnswersKey is a hash of question id -> tagged answer JSON for a live attempt.
func (r *CacheKeyStruct) DraftAnswersKey(examID, studentID string) string {
	return fmt.Sprintf("student:%s:exam:%s:answers", studentID, examID)
}

// SessionViolationsKey is a list mirroring the violation log of a live attempt.
func (r *CacheKeyStruct) SessionViolationsKey(examID, studentID string) string {
	return fmt.Sprintf("student:%s:exam:%s:violations", studentID, examID)
}

// SessionStartPattern matches the start keys of every live attempt of an exam.
func (r *CacheKeyStruct) SessionStartPattern(examID string) string {
	return fmt.Sprintf("student:*:exam:%s:session_start", examID)
}

// StudentActiveExamKey returns the cache key for a student's currently active exam
func (r *CacheKeyStruct) StudentActiveExamKey(studentID string) string {
	return fmt.Sprintf("student:%s:active_exam", studentID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
