package logging

import (
	"errors"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info", "json")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Expected Logger, got nil")
	}
	if logger.Logger == nil {
		t.Error("Expected zap.Logger to be initialized")
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger("invalid", "json")
	if err == nil {
		t.Error("Expected error for invalid log level")
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Expected Logger, got nil")
	}
}

func TestWithRoom(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	roomLogger := logger.WithRoom("test-room-123")

	if roomLogger == nil {
		t.Error("Expected logger with room, got nil")
	}
}

func TestWithReplica(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	replicaLogger := logger.WithReplica("replica-456")

	if replicaLogger == nil {
		t.Error("Expected logger with replica, got nil")
	}
}

func TestWithError(t *testing.T) {
	logger, _ := NewLogger("info", "json")
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)

	if errorLogger == nil {
		t.Error("Expected logger with error, got nil")
	}
}