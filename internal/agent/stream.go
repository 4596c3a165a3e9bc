package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// streamMessage is the subset of a claude stream-json line we care about
type streamMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	} `json:"message"`
	IsError  bool    `json:"is_error,omitempty"`
	NumTurns *uint32 `json:"num_turns,omitempty"`
	Result   string  `json:"result,omitempty"`
}

// ParseStream reads claude stream-json output and builds a transcript.
// onLine, when set, sees every raw line. Lines that are not JSON are ignored.
// sawResult reports whether a result message was seen.
func ParseStream(r io.Reader, onLine func(string)) (t *Transcript, sawResult bool, err error) {
	t = &Transcript{Turns: 1}
	var text strings.Builder

	scanner := bufio.NewScanner(r)
	// Increase buffer size for long JSON lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onLine != nil {
			onLine(line)
		}
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "assistant":
			for _, block := range msg.Message.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
					text.WriteByte('\n')
				}
			}
		case "result":
			if sawResult {
				continue
			}
			sawResult = true
			t.IsError = msg.IsError
			if msg.NumTurns != nil {
				t.Turns = *msg.NumTurns
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, sawResult, fmt.Errorf("reading agent output: %w", err)
	}

	t.Text = text.String()
	return t, sawResult, nil
}
