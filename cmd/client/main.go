package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/cipherchat/internal/client"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		urlFlag      string
		usernameFlag string
		roomFlag     string
		originFlag   string
		verboseFlag  bool
	)

	cmd := &cobra.Command{
		Use:   "cipherchat",
		Short: "Terminal client for the cipherchat relay",
		Long: `Connects to a cipherchat relay and reads lines from stdin.

  /join <room>         move into a room, creating it when needed
  /create <room>       create a room without joining
  /msg <user> <text>   send a private message
  /quit                leave the chat

Any other line is said to the current room.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := zap.NewNop()
			if verboseFlag {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				log = l
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			header := http.Header{}
			if originFlag != "" {
				header.Set("Origin", originFlag)
			}

			c, err := client.Dial(ctx, urlFlag, client.Options{
				Header: header,
				Room:   roomFlag,
				Logger: log,
			})
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if usernameFlag != "" {
				if err := c.SetUsername(usernameFlag); err != nil {
					return err
				}
			}

			return run(ctx, c, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "ws://localhost:8080/ws", "relay WebSocket URL")
	cmd.Flags().StringVar(&usernameFlag, "username", "", "display name to declare after connecting")
	cmd.Flags().StringVar(&roomFlag, "room", "Général", "default room of the relay")
	cmd.Flags().StringVar(&originFlag, "origin", "", "Origin header to send with the handshake")
	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "log connection details to stderr")
	return cmd
}

// run pumps stdin lines into the client and prints events until either side
// stops.
func run(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case ev, ok := <-c.Events():
				if !ok {
					return c.Err()
				}
				fmt.Fprintln(out, render(ev))
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanLines(ctx, in, lines)
		}()

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return c.Bye()
				}
				quit, err := execute(c, line)
				switch {
				case errors.Is(err, client.ErrNoRoomKey):
					fmt.Fprintln(out, "waiting for the room key, try again")
				case errors.Is(err, client.ErrEmptyRoom):
					fmt.Fprintln(out, "usage: /join <room> or /create <room>")
				case err != nil:
					return err
				}
				if quit {
					return nil
				}
			case <-c.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// scanLines forwards lines from in to out until in is exhausted or ctx is done.
func scanLines(ctx context.Context, in io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// execute applies one input line and reports whether the user asked to quit.
func execute(c *client.Client, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return true, c.Bye()
	case "/join":
		return false, c.ChangeRoom(arg)
	case "/create":
		return false, c.CreateRoom(arg)
	case "/msg":
		to, body, _ := strings.Cut(arg, " ")
		return false, c.PrivateMessage(to, body)
	}
	if strings.EqualFold(line, "bye") {
		return true, c.Bye()
	}
	return false, c.Say(line)
}

func render(ev client.Event) string {
	switch ev.Kind {
	case client.EventChat:
		if ev.Undecryptable {
			return fmt.Sprintf("[%s] %s: <encrypted>", ev.Room, ev.From)
		}
		return fmt.Sprintf("[%s] %s: %s", ev.Room, ev.From, ev.Text)
	case client.EventPrivate:
		return fmt.Sprintf("(private) %s: %s", ev.From, ev.Text)
	case client.EventNotice:
		return "* " + ev.Text
	case client.EventUserList:
		return "users: " + strings.Join(ev.Names, ", ")
	case client.EventRoomList:
		return "rooms: " + strings.Join(ev.Names, ", ")
	case client.EventNewRoom:
		return "* new room: " + ev.Room
	case client.EventRoomKey:
		return "* joined " + ev.Room
	default:
		return ev.Text
	}
}
