package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// chatCmd creates the interactive terminal chat client. It talks to a
// running server over the HTTP API so the full turn pipeline (memory
// surfacing, trinkets, segments) applies.
func chatCmd() *cobra.Command {
	var (
		serverURL string
		userID    string
		message   string
		noStream  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with Mira",
		Long: `Start an interactive chat session against a running Mira server.
Each message runs a full turn: memory surfacing, working memory composition,
tool use and persistence all happen server-side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				serverURL = "http://" + cfg.Server.Addr()
			}
			serverURL = strings.TrimRight(serverURL, "/")

			client := &http.Client{Timeout: 5 * time.Minute}

			// One-shot mode: send the message, print the turn, exit.
			if message != "" {
				if noStream {
					return sendTurn(client, serverURL, userID, message)
				}
				return streamTurn(client, serverURL, userID, message)
			}

			fmt.Printf("Connected to %s as %s\n", serverURL, userID)
			fmt.Println("Type your message and press Enter. Type 'exit' or 'quit' to end the session.")
			fmt.Println(strings.Repeat("-", 80))
			fmt.Println()

			scanner := bufio.NewScanner(os.Stdin)

			for {
				fmt.Print("You: ")
				if !scanner.Scan() {
					break
				}

				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
					fmt.Println("\nGoodbye!")
					break
				}

				fmt.Print("Mira: ")
				var err error
				if noStream {
					err = sendTurn(client, serverURL, userID, input)
				} else {
					err = streamTurn(client, serverURL, userID, input)
				}
				if err != nil {
					fmt.Printf("\nerror: %v\n", err)
				}
				fmt.Println()
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default: config server address)")
	cmd.Flags().StringVarP(&userID, "user", "u", "default_user", "User ID for the session")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit instead of starting a session")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the complete response instead of streaming")

	return cmd
}

func postChat(client *http.Client, serverURL, userID, message string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"message": message,
		"stream":  stream,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	return client.Do(req)
}

// sendTurn runs one non-streaming turn and prints the final response.
func sendTurn(client *http.Client, serverURL, userID, message string) error {
	resp, err := postChat(client, serverURL, userID, message, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Response string `json:"response"`
		} `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	}

	fmt.Print(envelope.Data.Response)
	fmt.Println()
	return nil
}

// streamTurn runs one streaming turn, printing text deltas as they arrive
// and noting tool activity inline.
func streamTurn(client *http.Client, serverURL, userID, message string) error {
	resp, err := postChat(client, serverURL, userID, message, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		// Error responses come back as a plain JSON envelope.
		var envelope struct {
			Error *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "text":
			var ev struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(frame.Data, &ev); err == nil {
				fmt.Print(ev.Content)
			}
		case "tool_executing":
			var ev struct {
				ToolName string `json:"tool_name"`
			}
			if err := json.Unmarshal(frame.Data, &ev); err == nil {
				fmt.Printf("\n[running %s...]\n", ev.ToolName)
			}
		case "tool_error":
			var ev struct {
				ToolName string `json:"tool_name"`
				Error    string `json:"error"`
			}
			if err := json.Unmarshal(frame.Data, &ev); err == nil {
				fmt.Printf("\n[%s failed: %s]\n", ev.ToolName, ev.Error)
			}
		case "error":
			var ev struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(frame.Data, &ev); err == nil && ev.Error != "" {
				return fmt.Errorf("%s", ev.Error)
			}
			return fmt.Errorf("turn failed")
		case "complete":
			fmt.Println()
			return nil
		}
	}
	return scanner.Err()
}
