package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/swpll"
)

type fakePublisher struct {
	messages [][]any
	err      error
}

func (p *fakePublisher) SendMessage(parts ...any) (int, error) {
	p.messages = append(p.messages, parts)
	return len(parts), p.err
}

func TestPublishUpdates(t *testing.T) {
	messages := make(chan ClientUpdate, 4)
	messages <- ClientUpdate{"STATUS", LoopStatus{Running: true, Profile: "lut-12.288MHz", Lock: swpll.UnlockedHigh}}
	messages <- ClientUpdate{"BAD", make(chan int)} // cannot be encoded, so skipped
	messages <- ClientUpdate{"GAINS", GainsArgs{Ki: 2}}
	close(messages)

	pub := new(fakePublisher)
	publishUpdates(pub, messages, nil)
	require.Len(t, pub.messages, 2)

	assert.Equal(t, "STATUS", pub.messages[0][0])
	var st LoopStatus
	require.NoError(t, json.Unmarshal(pub.messages[0][1].([]byte), &st))
	assert.True(t, st.Running)
	assert.Equal(t, swpll.UnlockedHigh, st.Lock)
	assert.Contains(t, string(pub.messages[0][1].([]byte)), `"UNLOCKED HIGH"`)

	assert.Equal(t, "GAINS", pub.messages[1][0])
	assert.JSONEq(t, `{"Kp":0,"Ki":2,"Kii":0}`, string(pub.messages[1][1].([]byte)))
}

func TestPublishUpdatesAbort(t *testing.T) {
	messages := make(chan ClientUpdate)
	abort := make(chan struct{})
	done := make(chan struct{})
	pub := &fakePublisher{err: errors.New("no subscribers")}
	go func() {
		publishUpdates(pub, messages, abort)
		close(done)
	}()
	messages <- ClientUpdate{"LOCK", 1}
	close(abort)
	<-done
	assert.Len(t, pub.messages, 1, "a send error must not stop the updater")
}
