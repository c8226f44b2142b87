package main

import (
	"context"
	"fmt"
	"io"

	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
)

type exchange struct {
	UserID   string
	ThreadID string
	Message  string
}

type conversation struct {
	Title     string
	Exchanges []exchange
}

var demoConversation = []conversation{
	{
		Title: "User 1, Thread 1",
		Exchanges: []exchange{
			{"user_1", "thread_1", "Hi, my name is Alice. I live in New York and I like reading and hiking."},
			{"user_1", "thread_1", "What is the capital of France?"},
			{"user_1", "thread_1", "Do you remember my name and where I live?"},
		},
	},
	{
		Title: "User 2, Thread 2",
		Exchanges: []exchange{
			{"user_2", "thread_2", "Hello, I'm Bob. I like to hike and play guitar. I'm from California."},
			{"user_2", "thread_2", "What are some good hiking trails near mountains?"},
			{"user_2", "thread_2", "Do you remember my name and what I like?"},
		},
	},
}

type turnRunner interface {
	Turn(ctx context.Context, userID, threadID, text string, opts ...turn.RunOption) (string, error)
}

type profileReader interface {
	Get(ctx context.Context, userID string) (*memorymodel.UserProfile, error)
}

// runScenario plays each conversation in order and prints every reply
// followed by the profile stored for the conversation's user.
func runScenario(ctx context.Context, out io.Writer, turns turnRunner, profiles profileReader, conversations []conversation) error {
	for i, c := range conversations {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s:\n", c.Title)

		var lastUser string
		for _, ex := range c.Exchanges {
			fmt.Fprintf(out, "User: %s\n", ex.Message)
			reply, err := turns.Turn(ctx, ex.UserID, ex.ThreadID, ex.Message)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Title, err)
			}
			fmt.Fprintf(out, "Chatbot: %s\n", reply)
			lastUser = ex.UserID
		}

		if lastUser == "" {
			continue
		}
		profile, err := profiles.Get(ctx, lastUser)
		if err != nil {
			return fmt.Errorf("load profile %s: %w", lastUser, err)
		}
		fmt.Fprintf(out, "Profile of %s:\n%s\n", lastUser, memorymodel.Format(profile))
	}
	return nil
}
