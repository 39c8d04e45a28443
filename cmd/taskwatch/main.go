package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskpulse/internal/channel"
	"taskpulse/internal/models"
)

// taskwatch opens a presence channel session against a running server and
// prints live collaboration activity for one task.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	token := flag.String("token", "", "Bearer token (see taskpulse -mint-token)")
	taskID := flag.String("task", "", "Task id to watch")
	userID := flag.String("user", "", "Local user id")
	editing := flag.Bool("editing", false, "Join in editing mode instead of viewing")
	flag.Parse()

	if *token == "" || *taskID == "" {
		fmt.Fprintln(os.Stderr, "Usage: taskwatch -task <id> -token <token> [-url <base>] [-user <id>] [-editing]")
		os.Exit(1)
	}

	mode := models.ModeViewing
	if *editing {
		mode = models.ModeEditing
	}

	session := channel.New(channel.Config{
		BaseURL: *baseURL,
		TaskID:  *taskID,
		Token:   *token,
		UserID:  *userID,
		Mode:    mode,
	})

	session.OnRosterChange(func(members []models.PresenceMember) {
		fmt.Printf("[%s] roster (%d):\n", timestamp(), len(members))
		for _, m := range members {
			name := m.UserID
			if m.User != nil && m.User.DisplayName != "" {
				name = m.User.DisplayName
			}
			fmt.Printf("  %-20s %s\n", name, m.Mode)
		}
	})

	session.OnTyping(func(ev models.TypingEvent) {
		fmt.Printf("[%s] %s typing in %q: %s\n", timestamp(), ev.UserID, ev.Field, ev.Preview)
	})

	session.OnComment(func(ev models.CommentEvent) {
		fmt.Printf("[%s] comment by %s: %s\n", timestamp(), ev.AuthorName, ev.Content)
	})

	session.OnTaskPatched(func(raw json.RawMessage) {
		fmt.Printf("[%s] task patched: %s\n", timestamp(), raw)
	})

	session.Open()
	defer session.Close()

	fmt.Printf("Watching task %s as %s (%s). Ctrl-C to stop.\n", *taskID, *userID, mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
