package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
)

var (
	_ turnRunner    = (*turn.Service)(nil)
	_ profileReader = (*memory.ProfileStore)(nil)
)

type echoTurns struct {
	calls []string
	err   error
}

func (e *echoTurns) Turn(_ context.Context, userID, threadID, text string, _ ...turn.RunOption) (string, error) {
	e.calls = append(e.calls, userID+"/"+threadID)
	if e.err != nil {
		return "", e.err
	}
	return "ack: " + text, nil
}

type mapProfiles map[string]*memorymodel.UserProfile

func (m mapProfiles) Get(_ context.Context, userID string) (*memorymodel.UserProfile, error) {
	return m[userID], nil
}

func TestRunScenarioPrintsRepliesAndProfiles(t *testing.T) {
	turns := &echoTurns{}
	profiles := mapProfiles{
		"user_1": {Name: "Alice", Location: "New York", Interests: []string{"reading", "hiking"}},
	}

	var out bytes.Buffer
	require.NoError(t, runScenario(context.Background(), &out, turns, profiles, demoConversation))

	assert.Len(t, turns.calls, 6)
	assert.Equal(t, "user_1/thread_1", turns.calls[0])
	assert.Equal(t, "user_2/thread_2", turns.calls[5])

	text := out.String()
	assert.Contains(t, text, "Chatbot: ack: What is the capital of France?")
	assert.Contains(t, text, "Profile of user_1:\nName: Alice\nLocation: New York\nInterests: reading, hiking")
	assert.Contains(t, text, "Profile of user_2:\nName: Unknown")
}

func TestRunScenarioStopsOnError(t *testing.T) {
	turns := &echoTurns{err: errors.New("gateway down")}

	var out bytes.Buffer
	err := runScenario(context.Background(), &out, turns, mapProfiles{}, demoConversation)
	require.Error(t, err)
	assert.Len(t, turns.calls, 1)
}
