package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamOTPKey returns the cache key holding the pending OTP for a
// test-student/test pair.
func (r *CacheKeyStruct) ExamOTPKey(userID int, testID string) string {
	return fmt.Sprintf("otp:%d:test:%s", userID, testID)
}

// ExamOTPAttemptsKey returns the cache key counting failed OTP attempts.
func (r *CacheKeyStruct) ExamOTPAttemptsKey(userID int, testID string) string {
	return fmt.Sprintf("otp:%d:test:%s:attempts", userID, testID)
}

// ExamSessionKey returns the cache key for an active exam session token (JTI).
func (r *CacheKeyStruct) ExamSessionKey(testStudentID int) string {
	return fmt.Sprintf("exam_session:%d", testStudentID)
}

// ResponseAnswersKey returns the cache key for a response's autosaved answers.
func (r *CacheKeyStruct) ResponseAnswersKey(responseID string) string {
	return fmt.Sprintf("response:%s:answers", responseID)
}

// ResponseViolationsKey returns the cache key counting violations for a response.
func (r *CacheKeyStruct) ResponseViolationsKey(responseID string) string {
	return fmt.Sprintf("response:%s:violations", responseID)
}

// TestViolationLimitKey returns the cache key for a test's violation limit.
func (r *CacheKeyStruct) TestViolationLimitKey(testID string) string {
	return fmt.Sprintf("test:%s:violation_limit", testID)
}

// ProctoringRoomChannel returns the Redis PubSub channel name for an
// institute's proctoring room.
func (r *CacheKeyStruct) ProctoringRoomChannel(instituteID string) string {
	return fmt.Sprintf("proctoring:institute:%s", instituteID)
}

var CacheKey = NewCacheKeyStruct()
