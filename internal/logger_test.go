package internal

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLogLevel(t *testing.T) {
	originalLevel := logLevel
	defer SetLogLevel(originalLevel)

	SetLogLevel(LogLevelDebug)
	if logLevel != LogLevelDebug {
		t.Errorf("SetLogLevel() logLevel = %v, want LogLevelDebug", logLevel)
	}
	if zapLevel.Level() != zapcore.DebugLevel {
		t.Errorf("SetLogLevel() zap level = %v, want debug", zapLevel.Level())
	}

	SetLogLevel(LogLevelError)
	if logLevel != LogLevelError {
		t.Errorf("SetLogLevel() logLevel = %v, want LogLevelError", logLevel)
	}
	if zapLevel.Level() != zapcore.ErrorLevel {
		t.Errorf("SetLogLevel() zap level = %v, want error", zapLevel.Level())
	}
}

func TestSetVerbose(t *testing.T) {
	originalLevel := logLevel
	defer SetLogLevel(originalLevel)

	SetVerbose(true)
	if logLevel != LogLevelDebug {
		t.Errorf("SetVerbose(true) logLevel = %v, want LogLevelDebug", logLevel)
	}

	SetVerbose(false)
	if logLevel != LogLevelInfo {
		t.Errorf("SetVerbose(false) logLevel = %v, want LogLevelInfo", logLevel)
	}
}

func TestLogFunctions(t *testing.T) {
	originalLevel := logLevel
	original := logger
	defer func() {
		SetLogLevel(originalLevel)
		logger = original
	}()

	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	SetLogLevel(LogLevelWarn)

	LogError("test error %d", 1)
	LogWarn("test warning")
	LogInfo("test info message")
	LogDebug("test debug message")

	if logs.Len() != 2 {
		t.Fatalf("logged %d entries at warn level, want 2", logs.Len())
	}
	if got := logs.All()[0].Message; got != "test error 1" {
		t.Errorf("first entry = %q, want %q", got, "test error 1")
	}
}

func TestSetLogger_Nil(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	SetLogger(nil)
	LogError("dropped")
	if Logger() == nil {
		t.Error("Logger() returned nil after SetLogger(nil)")
	}
}

func TestLogLevels(t *testing.T) {
	if LogLevelError >= LogLevelWarn {
		t.Error("LogLevelError should be less than LogLevelWarn")
	}
	if LogLevelWarn >= LogLevelInfo {
		t.Error("LogLevelWarn should be less than LogLevelInfo")
	}
	if LogLevelInfo >= LogLevelDebug {
		t.Error("LogLevelInfo should be less than LogLevelDebug")
	}
}
