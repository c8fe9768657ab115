package proctor

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession is returned when no session has been stored yet.
var ErrNoSession = errors.New("no stored exam session")

// Session is one student's exam attempt identity, created on OTP
// verification and destroyed on submit or termination.
type Session struct {
	Token           string        `json:"token"`
	UserID          int           `json:"user_id"`
	TestStudentID   int           `json:"test_student_id"`
	TestID          uuid.UUID     `json:"test_id"`
	TestResponseID  uuid.UUID     `json:"test_response_id"`
	StudentName     string        `json:"student_name"`
	TestTitle       string        `json:"test_title"`
	TestDuration    time.Duration `json:"test_duration"`
	StartedAt       time.Time     `json:"started_at"`
	ServerClockSkew time.Duration `json:"server_clock_skew"`
}

// SessionStore persists the exam session across process restarts, the
// single place session identity is read or cleared.
type SessionStore interface {
	Get() (*Session, error)
	Set(*Session) error
	Clear() error
}

// MemoryStore keeps the session in memory only.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Get() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	copy := *s.session
	return &copy, nil
}

func (s *MemoryStore) Set(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *sess
	s.session = &copy
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// FileStore persists the session as a JSON file so a restarted client
// can resume the same attempt.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed session store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *FileStore) Set(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
