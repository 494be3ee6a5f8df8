package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/memkeep/memkeep/pkg/config"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memkeep"
	"github.com/memkeep/memkeep/pkg/memstore"
)

// REPL commands.
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdOwner    = "!owner"
	cmdRemember = "!remember"
	cmdSearch   = "!search"
	cmdMemories = "!memories"
	cmdForget   = "!forget"
	cmdStats    = "!stats"
)

const helpText = `
memkeep chat - Command Reference:
-----------------------------------------
!help                 - Show this help message
!owner <id>           - Switch to a different owner
!remember <text>      - Store a memory directly
!search <query>       - Semantic search over stored memories
!memories             - List all memories, grouped by category
!forget <category>    - Delete memories in a category ("all" for everything)
!stats                - Show store statistics
!quit                 - Exit

Anything else is sent to the assistant as a chat message.`

const historyFile = ".memkeep_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	owner := flag.String("owner", "default", "Owner ID for this session")
	conversation := flag.String("conversation", "cli", "Conversation ID for this session")
	flag.Parse()

	// Optional .env for API keys; missing file is fine.
	godotenv.Load()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	client, err := memkeep.NewFromConfig(context.Background(), cfg)
	if err != nil {
		log.Error("Failed to initialize memkeep", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	runREPL(client, cfg, *owner, *conversation)
}

func runREPL(client *memkeep.Client, cfg *config.Config, owner, conversation string) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) (c []string) {
		commands := []string{cmdHelp, cmdQuit, cmdOwner, cmdRemember, cmdSearch, cmdMemories, cmdForget, cmdStats}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, prefix) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("\n=== memkeep chat ===")
	fmt.Println("Store:", cfg.Store.Type, "| Embedder:", cfg.Embedder.Provider, "| LLM:", cfg.LLM.Provider)
	fmt.Printf("Owner: %s | Conversation: %s\n", owner, conversation)
	fmt.Println("Type !help for available commands.")

	for {
		input, err := line.Prompt(fmt.Sprintf("memkeep::%s> ", owner))
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			return
		}

		ctx := client.OwnerContext(context.Background(), owner, conversation)
		if strings.HasPrefix(input, "!") {
			owner = handleCommand(ctx, client, input, owner)
			continue
		}

		reply, err := client.Handle(ctx, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(reply.Text)
		if reply.RetrievalDegraded {
			fmt.Println("(memory retrieval was degraded; answered without context)")
		} else if reply.MemoriesUsed > 0 {
			fmt.Printf("(used %d memories", reply.MemoriesUsed)
			if reply.Decision.ShouldStore {
				fmt.Printf("; stored as %s", reply.Decision.Category)
			}
			fmt.Println(")")
		} else if reply.Decision.ShouldStore {
			fmt.Printf("(stored as %s)\n", reply.Decision.Category)
		}
	}
}

// handleCommand runs one !command and returns the (possibly updated)
// owner ID.
func handleCommand(ctx context.Context, client *memkeep.Client, input, owner string) string {
	command := input
	argument := ""
	if idx := strings.IndexByte(input, ' '); idx > 0 {
		command = input[:idx]
		argument = strings.TrimSpace(input[idx+1:])
	}

	switch command {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdOwner:
		if argument == "" {
			fmt.Println("Usage: !owner <id>")
			return owner
		}
		fmt.Printf("Switched owner: %s -> %s\n", owner, argument)
		return argument

	case cmdRemember:
		if argument == "" {
			fmt.Println("Usage: !remember <text>")
			return owner
		}
		id, err := client.Memories().Store(ctx, argument, memstore.Metadata{
			Category: memstore.CategoryGeneral,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return owner
		}
		fmt.Printf("Remembered (%s)\n", id)

	case cmdSearch:
		if argument == "" {
			fmt.Println("Usage: !search <query>")
			return owner
		}
		results, err := client.Memories().Search(ctx, argument, memstore.QueryOptions{})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return owner
		}
		if len(results) == 0 {
			fmt.Println("No matching memories.")
			return owner
		}
		for i, result := range results {
			fmt.Printf("%d. [%d%%] %s\n", i+1, int(result.Score*100), result.Record.Content)
		}

	case cmdMemories:
		grouped, err := client.Memories().ListByOwner(ctx)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return owner
		}
		if len(grouped) == 0 {
			fmt.Println("No memories stored.")
			return owner
		}
		categories := make([]string, 0, len(grouped))
		for category := range grouped {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			fmt.Printf("%s:\n", category)
			for _, record := range grouped[category] {
				fmt.Printf("  - [%s] %s\n", record.CreatedAt.Format("2006-01-02 15:04"), record.Content)
			}
		}

	case cmdForget:
		if argument == "" {
			fmt.Println("Usage: !forget <category>  (or: !forget all)")
			return owner
		}
		filter := memstore.Filter{}
		if argument != "all" {
			filter.Category = argument
		}
		removed, err := client.Memories().Forget(ctx, filter)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return owner
		}
		fmt.Printf("Forgot %d memories.\n", removed)

	case cmdStats:
		stats, err := client.Memories().Stats(ctx)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return owner
		}
		fmt.Printf("Records: %d | Dimension: %d\n", stats.TotalRecords, stats.Dimension)

	default:
		fmt.Printf("Unknown command: %s (try !help)\n", command)
	}
	return owner
}
