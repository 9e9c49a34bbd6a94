package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/RichardoC/tele-agent/internal/api"
	"github.com/RichardoC/tele-agent/internal/models"
	"github.com/RichardoC/tele-agent/internal/pipeline"
	"github.com/RichardoC/tele-agent/internal/queue"
	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	serverURL      = flag.String("server", "http://localhost:8100", "tele-agent server URL")
	conversationID = flag.Int64("id", 0, "conversation id to chat as")
	displayName    = flag.String("name", "", "display name sent with each message")
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
)

const help = `Commands:
  /file <path>         summarize a .txt file
  /queue               show queue status
  /cancel              drop your waiting request
  /stats [id]          show user stats
  /clear [id]          clear conversation history
  /grant <id> [name]   grant access (admin)
  /revoke <id>         revoke access (admin)
  /list                list access (admin)
  /purge <days>        delete messages older than days (admin)
  exit                 quit`

func main() {
	flag.Parse()
	if *conversationID == 0 {
		fmt.Fprintln(os.Stderr, "--id is required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := &client{base: *serverURL, id: *conversationID, displayName: *displayName, http: http.DefaultClient}

	fmt.Println(boldGreen("🤖 tele-agent chat"))
	fmt.Printf("Server: %s, conversation: %s\n", boldCyan(*serverURL), boldCyan(strconv.FormatInt(*conversationID, 10)))
	fmt.Println("Type your message and press Enter. Type /help for commands, 'exit' or Ctrl+C to quit.")
	fmt.Println()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print(boldGreen("You: "))
		var input string
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			return
		}

		if err := dispatch(ctx, c, input); err != nil {
			fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		}
		fmt.Println()
	}
}

func dispatch(ctx context.Context, c *client, input string) error {
	if !strings.HasPrefix(input, "/") {
		return c.send(ctx, input, printEvent)
	}

	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/help":
		fmt.Println(help)
		return nil

	case "/file":
		if len(args) != 1 {
			return fmt.Errorf("usage: /file <path>")
		}
		return c.sendFile(ctx, args[0], printEvent)

	case "/queue":
		var s queue.Status
		if err := c.do(ctx, http.MethodGet, "/api/queue", nil, nil, &s); err != nil {
			return err
		}
		fmt.Printf("In flight: %v, waiting: %d\n", s.InFlight, s.WaitingCount)
		if s.HasActive {
			fmt.Printf("Active conversation: %d\n", s.ActiveID)
		}
		return nil

	case "/cancel":
		var out map[string]bool
		if err := c.do(ctx, http.MethodDelete, "/api/queue", nil, nil, &out); err != nil {
			return err
		}
		fmt.Printf("Canceled: %v\n", out["canceled"])
		return nil

	case "/stats":
		var s pipeline.UserStats
		if err := c.do(ctx, http.MethodGet, "/api/users/stats", target(args), nil, &s); err != nil {
			return err
		}
		fmt.Printf("%s: %d messages sent, %d stored, first seen %s, last seen %s\n",
			boldCyan(s.User.DisplayName), s.User.MessageCount, s.Messages,
			s.User.FirstSeen.Local().Format("2006-01-02 15:04"), s.User.LastSeen.Local().Format("2006-01-02 15:04"))
		return nil

	case "/clear":
		var out map[string]int64
		if err := c.do(ctx, http.MethodPost, "/api/conversations/clear", target(args), nil, &out); err != nil {
			return err
		}
		fmt.Printf("Deleted %d messages\n", out["deleted"])
		return nil

	case "/grant":
		if len(args) < 1 {
			return fmt.Errorf("usage: /grant <id> [name]")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		name := strings.Join(args[1:], " ")
		if err := c.do(ctx, http.MethodPost, "/api/access", nil, api.GrantRequest{ConversationID: id, DisplayName: name}, nil); err != nil {
			return err
		}
		fmt.Printf("Granted access to %d\n", id)
		return nil

	case "/revoke":
		if len(args) != 1 {
			return fmt.Errorf("usage: /revoke <id>")
		}
		var out map[string]bool
		if err := c.do(ctx, http.MethodDelete, "/api/access", url.Values{"target_id": {args[0]}}, nil, &out); err != nil {
			return err
		}
		fmt.Printf("Removed: %v\n", out["removed"])
		return nil

	case "/list":
		var entries []models.AccessEntry
		if err := c.do(ctx, http.MethodGet, "/api/access", nil, nil, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%d\t%s\tgranted %s by %d\n", e.ConversationID, e.DisplayName, e.GrantedAt.Local().Format("2006-01-02 15:04"), e.GrantedBy)
		}
		if len(entries) == 0 {
			fmt.Println("No entries")
		}
		return nil

	case "/purge":
		if len(args) != 1 {
			return fmt.Errorf("usage: /purge <days>")
		}
		var out map[string]int64
		if err := c.do(ctx, http.MethodPost, "/api/purge", url.Values{"days": {args[0]}}, nil, &out); err != nil {
			return err
		}
		fmt.Printf("Deleted %d messages\n", out["deleted"])
		return nil

	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

func target(args []string) url.Values {
	if len(args) == 0 {
		return nil
	}
	return url.Values{"target_id": {args[0]}}
}

func printEvent(e api.Event) {
	switch e.Type {
	case api.EventQueued:
		fmt.Println(yellow(e.Message))
	case api.EventProcessing:
		fmt.Println(yellow("🤔 ..."))
	case api.EventReply:
		fmt.Print(boldCyan("Assistant: "))
		for _, chunk := range e.Chunks {
			fmt.Println(chunk)
		}
	case api.EventError:
		fmt.Println(red(e.Message))
	}
}
