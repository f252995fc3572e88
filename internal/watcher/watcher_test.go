package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{OpConfigChange, "CONFIG_CHANGE"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{PollInterval: time.Second}.WithDefaults()

	assert.Equal(t, 500*time.Millisecond, o.DebounceWindow)
	assert.Equal(t, time.Second, o.PollInterval)
	assert.Equal(t, 100, o.EventBufferSize)
}

func TestOptions_Classify(t *testing.T) {
	o := Options{Extensions: []string{".pdf", ".mp3"}}

	tests := []struct {
		name     string
		relevant bool
		config   bool
	}{
		{"report.pdf", true, false},
		{"MEETING.MP3", true, false},
		{"notes.xlsx", false, false},
		{".hidden.pdf", false, false},
		{".amanrag", false, false},
		{".amanrag.yaml", true, true},
		{"sub/report.pdf", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relevant, config := o.classify(tt.name)
			assert.Equal(t, tt.relevant, relevant)
			assert.Equal(t, tt.config, config)
		})
	}
}

func TestOptions_Classify_NoExtensionsAcceptsVisibleFiles(t *testing.T) {
	relevant, _ := Options{}.classify("anything.bin")
	assert.True(t, relevant)
}
