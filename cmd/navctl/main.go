// navctl scripts a running navigator daemon over its NATS IPC topics:
// send a chat turn, manage schedules, query status.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/ipc"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
)

const requestTimeout = 150 * time.Second

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  navctl chat --message "..." [--session "..."]`)
	fmt.Fprintln(os.Stderr, "  navctl schedule list")
	fmt.Fprintln(os.Stderr, `  navctl schedule add --name "..." --spec "..." --prompt "..."`)
	fmt.Fprintln(os.Stderr, `  navctl schedule rm --id "..."`)
	fmt.Fprintln(os.Stderr, "  navctl status")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  NAVIGATOR_NATS_URL  daemon bus address (default nats://localhost:4222)")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func request(topic string, req any) ipc.Response {
	url := os.Getenv("NAVIGATOR_NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		fatal("%v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var resp ipc.Response
	if err := client.RequestJSON(ctx, topic, req, &resp); err != nil {
		fatal("%v", err)
	}
	if resp.Error != "" {
		fatal("%s", resp.Error)
	}
	return resp
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "schedule":
		runSchedule(os.Args[2:])
	case "status":
		runStatus()
	default:
		usage()
	}
}

func runChat(rest []string) {
	args := parseArgs(rest)
	if args["message"] == "" {
		fatal("--message is required")
	}

	resp := request(natsbus.TopicIPCChat, ipc.ChatRequest{
		Message:   args["message"],
		SessionID: args["session"],
	})
	if resp.Turn == nil {
		fatal("empty turn result")
	}

	fmt.Println(resp.Turn.Response)
	for _, n := range resp.Turn.HighUrgency {
		fmt.Printf("\n[%s] %s\n", n.Priority, n.Body)
	}
}

func runSchedule(rest []string) {
	if len(rest) == 0 {
		usage()
	}

	switch rest[0] {
	case "list":
		resp := request(natsbus.TopicIPCScheduleList, struct{}{})
		if len(resp.Schedules) == 0 {
			fmt.Println("No schedules.")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tNAME\tSPEC\tNEXT RUN")
		for _, sc := range resp.Schedules {
			next := "-"
			if sc.NextRunAt != nil {
				next = sc.NextRunAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sc.ID, sc.Status, sc.Name, sc.Spec, next)
		}
		w.Flush()

	case "add":
		args := parseArgs(rest[1:])
		if args["name"] == "" || args["spec"] == "" || args["prompt"] == "" {
			fatal("--name, --spec, and --prompt are required")
		}
		resp := request(natsbus.TopicIPCScheduleAdd, ipc.ScheduleAddRequest{
			Name:      args["name"],
			Spec:      args["spec"],
			Prompt:    args["prompt"],
			SessionID: args["session"],
		})
		fmt.Printf("Schedule created: %s\n", resp.ID)

	case "rm":
		args := parseArgs(rest[1:])
		if args["id"] == "" {
			fatal("--id is required")
		}
		request(natsbus.TopicIPCScheduleRemove, map[string]string{"id": args["id"]})
		fmt.Println("Schedule deleted.")

	default:
		usage()
	}
}

func runStatus() {
	resp := request(natsbus.TopicIPCStatus, struct{}{})
	data, err := json.MarshalIndent(resp.Status, "", "  ")
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(string(data))
}
