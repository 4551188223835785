package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubCoalescesSignals(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubB()

	hub.Notify()
	hub.Notify()

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
	assert.Equal(t, 2, hub.Len())

	unsubA()
	unsubA()
	assert.Equal(t, 1, hub.Len())
}
