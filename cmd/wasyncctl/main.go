package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/edubauerdev/wasync/internal/daemon"
	"github.com/edubauerdev/wasync/internal/store"
	"github.com/edubauerdev/wasync/internal/workspace"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := workspace.Resolve(*sessionFlag)
	if err := workspace.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(sessionName, *jsonFlag)
	case "chats":
		cmdChats(sessionName, *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wasyncctl search <query>")
			os.Exit(1)
		}
		cmdSearch(sessionName, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: wasyncctl send <jid> <text>")
			os.Exit(1)
		}
		cmdSend(sessionName, args[1], args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wasyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status             Check daemon health")
	fmt.Fprintln(os.Stderr, "  chats              List synced chats")
	fmt.Fprintln(os.Stderr, "  search <query>     Full-text search over messages")
	fmt.Fprintln(os.Stderr, "  send <jid> <text>  Queue an outgoing text message")
}

// cmdStatus asks the daemon's health service. Exit code 0 = connected,
// 1 = daemon up but session not connected, 2 = daemon unreachable.
func cmdStatus(sessionName string, jsonOut bool) {
	socketPath := workspace.SocketPath(sessionName)
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(2)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: daemon.HealthService,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: daemon for session %q not reachable: %v\n", sessionName, err)
		os.Exit(2)
	}

	connected := resp.Status == healthpb.HealthCheckResponse_SERVING
	if jsonOut {
		outputJSON(map[string]any{"session": sessionName, "connected": connected})
	} else if connected {
		fmt.Printf("Session %q: connected\n", sessionName)
	} else {
		fmt.Printf("Session %q: daemon running, not connected\n", sessionName)
	}
	if !connected {
		os.Exit(1)
	}
}

func openStore(sessionName string) *store.DB {
	db, err := store.Open(workspace.StoreDBPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open store for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	return db
}

func cmdChats(sessionName string, jsonOut bool) {
	db := openStore(sessionName)
	defer func() { _ = db.Close() }()

	chats, err := db.ListChats(100, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats synced yet.")
		return
	}
	for _, c := range chats {
		when := time.UnixMilli(c.LastMessageAt).Format("2006-01-02 15:04")
		fmt.Printf("%-40s %-25s %s\n", c.JID, c.Name, when)
	}
}

func cmdSearch(sessionName, query string, jsonOut bool) {
	db := openStore(sessionName)
	defer func() { _ = db.Close() }()

	results, err := db.SearchMessages(query, "", 25)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		when := time.UnixMilli(r.Message.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", when, r.Message.ChatJID, r.Snippet)
	}
}

func cmdSend(sessionName, jid, text string) {
	db := openStore(sessionName)
	defer func() { _ = db.Close() }()

	clientMsgID := uuid.NewString()
	if err := db.QueueOutbox(clientMsgID, jid, text); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Queued %s\n", clientMsgID)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
