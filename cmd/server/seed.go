package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"chat-relay/internal/models"
	"chat-relay/internal/store"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("empty value")
	}
	*l = append(*l, v)
	return nil
}

// seed creates users and conversations and writes one line per created row
// to w, so the ids can be used with -mint-token and in websocket paths.
func seed(ctx context.Context, st *store.SQLiteStore, w io.Writer, users, conversations []string) error {
	for _, username := range users {
		u, err := st.CreateUser(ctx, models.User{Username: username})
		if err != nil {
			return fmt.Errorf("seed user %q: %w", username, err)
		}
		fmt.Fprintf(w, "user %d %s\n", u.ID, u.Username)
	}

	for _, name := range conversations {
		c, err := st.CreateConversation(ctx, name)
		if err != nil {
			return fmt.Errorf("seed conversation %q: %w", name, err)
		}
		fmt.Fprintf(w, "conversation %d %s\n", c.ID, c.Name)
	}
	return nil
}
