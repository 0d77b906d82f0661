package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/calder-ai/calder/internal/config"
	"github.com/calder-ai/calder/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		addr     string
		username string
		message  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running calder gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(addr, username, message)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default from config)")
	cmd.Flags().StringVar(&username, "user", "cli", "username the conversation is keyed by")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

type chatClient struct {
	conn     *websocket.Conn
	username string
}

func runChat(addr, username, message string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway connect failed (%s): %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	client := &chatClient{conn: conn, username: username}
	if err := client.connect(cfg.Gateway.Token); err != nil {
		fmt.Fprintf(os.Stderr, "auth failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	replies := make(chan string, 8)
	go client.readLoop(ctx, replies)

	if message != "" {
		if err := client.send(message); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			os.Exit(1)
		}
		select {
		case text := <-replies:
			fmt.Println(text)
		case <-time.After(5 * time.Minute):
			fmt.Fprintln(os.Stderr, "timed out waiting for a reply")
			os.Exit(1)
		}
		return
	}

	banner := fmt.Sprintf("calder chat @ %s (user %s)", addr, username)
	fmt.Fprintln(os.Stderr, banner)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", runewidth.StringWidth(banner)))
	fmt.Fprintln(os.Stderr, `Type "exit" to quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			return
		}
		if err := client.send(input); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}
		select {
		case text := <-replies:
			fmt.Printf("\n%s\n\n", text)
		case <-time.After(5 * time.Minute):
			fmt.Fprintln(os.Stderr, "(no reply yet; still listening)")
		}
	}
}

func (c *chatClient) connect(token string) error {
	params, _ := json.Marshal(protocol.ConnectParams{
		Token:            token,
		Username:         c.username,
		ClientInstanceID: uuid.NewString()[:8],
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := wsjson.Write(ctx, c.conn, protocol.RequestFrame{
		Type:   protocol.FrameRequest,
		ID:     "connect-1",
		Method: protocol.MethodConnect,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	var resp protocol.ResponseFrame
	if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	if !resp.OK {
		if resp.Error != "" {
			return fmt.Errorf("connect rejected: %s", resp.Error)
		}
		return fmt.Errorf("connect rejected")
	}
	return nil
}

func (c *chatClient) send(text string) error {
	params, _ := json.Marshal(protocol.ChatSendParams{Text: text})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.conn, protocol.RequestFrame{
		Type:   protocol.FrameRequest,
		ID:     uuid.NewString()[:8],
		Method: protocol.MethodChatSend,
		Params: params,
	})
}

// readLoop delivers chat messages to the REPL and drops everything else.
func (c *chatClient) readLoop(ctx context.Context, replies chan<- string) {
	for {
		var frame struct {
			Type    string          `json:"type"`
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "\nconnection closed: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if frame.Type != protocol.FrameEvent || frame.Event != protocol.EventChatMessage {
			continue
		}
		var msg protocol.ChatMessagePayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			continue
		}
		select {
		case replies <- msg.Text:
		default:
		}
	}
}
