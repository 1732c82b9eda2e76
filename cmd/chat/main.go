package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Agora server URL")
	agent := flag.String("agent", "", "Agent ID to talk to")
	topic := flag.String("topic", "catching up", "Conversation topic")
	location := flag.String("location", "the square", "Where the conversation happens")
	flag.Parse()

	fmt.Println("Agora CLI Chat")
	fmt.Printf("Server: %s\n", *server)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /agents, /conversations")
	fmt.Println("---")

	if *agent == "" {
		fetchAgents(*server)
		fmt.Println("\nPick one with -agent <id>.")
		return
	}

	convID := startConversation(*server, *agent, *topic, *location)
	if convID == "" {
		return
	}
	fmt.Printf("Conversation %s started with @%s about %q.\n", convID, *agent, *topic)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/agents" {
			fetchAgents(*server)
			continue
		}
		if input == "/conversations" {
			fetchConversations(*server)
			continue
		}

		sendMessage(*server, convID, input)
	}
}

func fetchAgents(server string) {
	resp, err := http.Get(server + "/api/agents")
	if err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	defer resp.Body.Close()

	var agents []struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		Interests []string `json:"interests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		printError("Failed to parse agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No residents registered yet.")
		return
	}
	fmt.Println("Residents:")
	for _, a := range agents {
		fmt.Printf("  @%s (%s) — %s\n", a.ID, a.Name, strings.Join(a.Interests, ", "))
	}
}

func fetchConversations(server string) {
	resp, err := http.Get(server + "/api/conversations")
	if err != nil {
		printError("Failed to fetch conversations: %v", err)
		return
	}
	defer resp.Body.Close()

	var convs []struct {
		ID           string   `json:"id"`
		Participants []string `json:"participants"`
		Topic        string   `json:"topic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
		printError("Failed to parse conversations: %v", err)
		return
	}
	if len(convs) == 0 {
		fmt.Println("Nothing going on right now.")
		return
	}
	fmt.Println("Active conversations:")
	for _, c := range convs {
		fmt.Printf("  %s — %s (%s)\n", c.ID, strings.Join(c.Participants, ", "), c.Topic)
	}
}

func startConversation(server, agentID, topic, location string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"participants": []string{agentID},
		"topic":        topic,
		"location":     location,
	})
	resp, err := http.Post(server+"/api/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return ""
	}
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		printError("Failed to parse response: %v", err)
		return ""
	}
	return rec.ID
}

func sendMessage(server, convID, content string) {
	body, _ := json.Marshal(map[string]string{"content": content})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(
		server+"/api/conversations/"+convID+"/messages",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var rec struct {
		Messages []struct {
			Author  string `json:"author"`
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	// Print everything after the user's own message.
	for i := len(rec.Messages) - 1; i >= 0; i-- {
		if rec.Messages[i].Role == "user" {
			for _, m := range rec.Messages[i+1:] {
				fmt.Printf("\033[36m[%s]\033[0m %s\n", m.Author, m.Content)
			}
			return
		}
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
