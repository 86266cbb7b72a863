package logstore

import (
	"fmt"
	"strings"
)

const (
	recordPrefix = "log:"
	keySep       = ":"
)

// Scope identifies a branch of the user/program/task hierarchy.
// Empty trailing fields widen the scope.
type Scope struct {
	UserID    string `json:"userId,omitempty"`
	ProgramID string `json:"programId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

type level int

const (
	levelNone level = iota
	levelUser
	levelProgram
	levelTask
)

func (s Scope) level() level {
	switch {
	case s.UserID == "":
		return levelNone
	case s.ProgramID == "":
		return levelUser
	case s.TaskID == "":
		return levelProgram
	default:
		return levelTask
	}
}

// validate checks that the scope names at least a user, that a task always
// comes with its program, and that no identifier contains the key delimiter.
func (s Scope) validate() error {
	if s.UserID == "" {
		return ErrScopeRequired
	}
	if s.TaskID != "" && s.ProgramID == "" {
		return fmt.Errorf("%w: taskId given without programId", ErrScopeRequired)
	}
	for _, id := range []string{s.UserID, s.ProgramID, s.TaskID} {
		if strings.Contains(id, keySep) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, id, keySep)
		}
	}
	return nil
}

// RecordKey returns the storage key of a record.
func RecordKey(userID, programID, taskID, id string) string {
	return recordPrefix + userID + keySep + programID + keySep + taskID + keySep + id
}

// RecordPrefix returns the key prefix shared by every record in scope.
func RecordPrefix(s Scope) string {
	switch s.level() {
	case levelUser:
		return recordPrefix + s.UserID + keySep
	case levelProgram:
		return recordPrefix + s.UserID + keySep + s.ProgramID + keySep
	case levelTask:
		return recordPrefix + s.UserID + keySep + s.ProgramID + keySep + s.TaskID + keySep
	default:
		return recordPrefix
	}
}

// UserIndexKey returns the key of a user's index list.
func UserIndexKey(userID string) string {
	return "index:user:" + userID + ":logs"
}

// ProgramIndexKey returns the key of a program's index list.
func ProgramIndexKey(userID, programID string) string {
	return "index:program:" + userID + keySep + programID + ":logs"
}

// TaskIndexKey returns the key of a task's index list.
func TaskIndexKey(userID, programID, taskID string) string {
	return "index:task:" + userID + keySep + programID + keySep + taskID + ":logs"
}

// IndexKey returns the narrowest index key for the scope.
func IndexKey(s Scope) string {
	switch s.level() {
	case levelTask:
		return TaskIndexKey(s.UserID, s.ProgramID, s.TaskID)
	case levelProgram:
		return ProgramIndexKey(s.UserID, s.ProgramID)
	default:
		return UserIndexKey(s.UserID)
	}
}

// indexKeysFor returns the user, program and task index keys a record in
// the task scope s is listed in.
func indexKeysFor(s Scope) []string {
	return []string{
		UserIndexKey(s.UserID),
		ProgramIndexKey(s.UserID, s.ProgramID),
		TaskIndexKey(s.UserID, s.ProgramID, s.TaskID),
	}
}

func validateID(name, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidID, name)
	}
	if strings.Contains(id, keySep) {
		return fmt.Errorf("%w: %s %q contains %q", ErrInvalidID, name, id, keySep)
	}
	return nil
}

// validateTaskScope requires all three identifiers.
func validateTaskScope(userID, programID, taskID string) error {
	if err := validateID("userId", userID); err != nil {
		return err
	}
	if err := validateID("programId", programID); err != nil {
		return err
	}
	return validateID("taskId", taskID)
}
