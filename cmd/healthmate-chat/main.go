package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/client"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
	"github.com/HealthMateDemo/HealthMateV1/pkg/reply"
)

const help = `Commands:
  /template <health|mindfull|global>  switch reply voice
  /new                                start a new conversation
  /conv <id>                          continue conversation <id>
  /status                             show connection status
  /connect, /disconnect               manage the channel
  /quit                               exit`

type chat struct {
	m   *client.Manager
	out io.Writer

	mu       sync.Mutex
	template bus.Template
	convID   string
}

func (c *chat) current() (bus.Template, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.template, c.convID
}

func (c *chat) setConversation(id string) {
	c.mu.Lock()
	c.convID = id
	c.mu.Unlock()
}

func main() {
	configPath := flag.String("config", "", "path to the JSON config file")
	url := flag.String("url", "", "server URL, overrides the config")
	debug := flag.Bool("debug", false, "log transport events")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *debug {
		logger.SetLevel(logger.DEBUG)
	} else {
		logger.SetLevel(logger.ERROR)
	}

	if err := runREPL(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runREPL(cfg *config.Config) error {
	var historyFile string
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".healthmate_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "[global] > ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	logger.SetOutput(rl.Stderr())

	c := &chat{
		m:        client.New(client.OptionsFromConfig(cfg.Client)),
		out:      rl.Stdout(),
		template: bus.TemplateGlobal,
		convID:   uuid.NewString(),
	}
	defer c.m.Close()

	c.m.OnMessage(c.print)
	c.m.Connect()
	fmt.Fprintf(c.out, "HealthMate chat, %s (type /help)\n", cfg.Client.URL)

	for {
		line, err := rl.Readline()
		if err != nil { // Ctrl-C or Ctrl-D
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.command(rl, line); quit {
				return nil
			}
			continue
		}
		tmpl, convID := c.current()
		env := bus.NewMessage(bus.SenderUser, line, convID, tmpl, time.Time{})
		if err := c.m.Send(env); err != nil {
			fmt.Fprintf(c.out, "send failed: %v\n", err)
		}
	}
}

func (c *chat) command(rl *readline.Instance, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, help)
	case "/template":
		if len(fields) < 2 || !bus.Template(fields[1]).Valid() {
			fmt.Fprintln(c.out, "usage: /template <health|mindfull|global>")
			return false
		}
		tmpl := bus.Template(fields[1])
		c.mu.Lock()
		c.template = tmpl
		c.mu.Unlock()
		rl.SetPrompt(fmt.Sprintf("[%s] > ", tmpl))
		if g, ok := reply.Greeting(tmpl); ok {
			fmt.Fprintf(c.out, "ai: %s\n", g)
		}
	case "/new":
		id := uuid.NewString()
		c.setConversation(id)
		fmt.Fprintf(c.out, "conversation %s\n", id)
	case "/conv":
		if len(fields) < 2 {
			_, id := c.current()
			fmt.Fprintf(c.out, "conversation %s\n", id)
			return false
		}
		c.setConversation(fields[1])
	case "/status":
		state := "disconnected"
		if c.m.Connected() {
			state = "connected"
		}
		tmpl, id := c.current()
		fmt.Fprintf(c.out, "%s, template %s, conversation %s\n", state, tmpl, id)
	case "/connect":
		c.m.Connect()
	case "/disconnect":
		c.m.Disconnect()
	default:
		fmt.Fprintf(c.out, "unknown command %s\n", fields[0])
	}
	return false
}

// print renders inbound envelopes. Replies for another conversation are
// dropped, as are replies with no conversation.
func (c *chat) print(e bus.Envelope) {
	_, convID := c.current()
	switch e.Kind {
	case bus.KindConnected:
		if e.Content != "" {
			fmt.Fprintf(c.out, "* %s\n", e.Content)
		}
	case bus.KindTyping:
		if e.ConversationID == convID {
			fmt.Fprintln(c.out, "ai is typing...")
		}
	case bus.KindError:
		fmt.Fprintf(c.out, "! %s\n", e.Content)
	case bus.KindMessage:
		if e.Sender != bus.SenderAI || e.ConversationID != convID {
			return
		}
		fmt.Fprintf(c.out, "ai: %s\n", e.Content)
	}
}
