package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		mode           string
		api, relay, ok bool
	}{
		{"all", true, true, true},
		{"api", true, false, true},
		{"relay", false, true, true},
		{"worker", false, false, false},
		{"", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			api, relay, err := parseMode(tt.mode)
			assert.Equal(t, tt.ok, err == nil)
			assert.Equal(t, tt.api, api)
			assert.Equal(t, tt.relay, relay)
		})
	}
}
