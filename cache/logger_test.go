package cache

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	// These should not panic
	logger.Debug("test message", "key", "value")
	logger.Info("test message")
	logger.Warn("test message", nil)
	logger.Error("test message", "odd")
}

func TestConsoleLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		log   func(Logger)
	}{
		{"DEBUG", func(l Logger) { l.Debug("loaded", "map", "users", "entries", 2) }},
		{"INFO", func(l Logger) { l.Info("loaded", "map", "users", "entries", 2) }},
		{"WARN", func(l Logger) { l.Warn("loaded", "map", "users", "entries", 2) }},
		{"ERROR", func(l Logger) { l.Error("loaded", "map", "users", "entries", 2) }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewWriterLogger(&buf, "member-1"))
			assert.Equal(t, "["+tt.level+"] member-1: loaded map=users entries=2\n", buf.String())
		})
	}
}

func TestConsoleLoggerOddArgs(t *testing.T) {
	var buf bytes.Buffer
	NewWriterLogger(&buf, "p").Info("msg", "key", "value", "dangling")

	assert.Equal(t, "[INFO] p: msg key=value dangling\n", buf.String())
}

func TestConsoleLoggerConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "p")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Debug("partition done", "partition", i)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 20)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "[DEBUG] p: partition done partition="), line)
	}
}

func TestJSONMarshallerRoundTrip(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	m := NewJSONMarshaller()

	data, err := m.Marshal(user{Name: "alice", Age: 30})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice","age":30}`, string(data))

	var out user
	assert.NoError(t, m.Unmarshal(data, &out))
	assert.Equal(t, user{Name: "alice", Age: 30}, out)
}

func TestJSONMarshallerInvalid(t *testing.T) {
	var v any
	assert.Error(t, NewJSONMarshaller().Unmarshal([]byte("{bad"), &v))

	_, err := NewJSONMarshaller().Marshal(make(chan int))
	assert.Error(t, err)
}
