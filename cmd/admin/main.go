// Command admin drives the loopback-only admin endpoints: forcing period
// generation and removing individual quests.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		base = flag.String("base", "http://127.0.0.1:8080", "server base url")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: admin [-base URL] <command>\n\ncommands:\n")
		fmt.Fprintf(os.Stderr, "  generate-daily    mint the current daily quest period\n")
		fmt.Fprintf(os.Stderr, "  generate-weekly   mint the current weekly quest period\n")
		fmt.Fprintf(os.Stderr, "  delete-quest <id> remove one quest\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := log.New(os.Stdout, "[admin] ", log.LstdFlags)
	httpc := &http.Client{Timeout: 10 * time.Second}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var (
		method string
		path   string
	)
	switch args[0] {
	case "generate-daily":
		method, path = http.MethodPost, "/ai/generate/daily/force"
	case "generate-weekly":
		method, path = http.MethodPost, "/ai/generate/weekly/force"
	case "delete-quest":
		if len(args) != 2 {
			logger.Fatalf("delete-quest needs a quest id")
		}
		method, path = http.MethodDelete, "/ai/quests/"+args[1]
	default:
		flag.Usage()
		os.Exit(2)
	}

	req, err := http.NewRequest(method, *base+path, nil)
	if err != nil {
		logger.Fatalf("request: %v", err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		logger.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		logger.Fatalf("%s %s: %d %s", method, path, resp.StatusCode, body)
	}
	logger.Printf("%s", body)
}
