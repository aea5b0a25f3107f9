// Command gpuctl is a small CLI client for a running Dispatch Gateway:
// health, generate, stop, and history, each a thin wrapper over the
// gateway's HTTP surface.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8888", "Dispatch Gateway base URL")
	prompt := flag.String("prompt", "", "Prompt text (generate subcommand)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println("gpuctl - GPU Dispatch Gateway CLI")
		fmt.Println("usage: gpuctl [-addr url] <health|generate|stop|history>")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var err error
	switch args[0] {
	case "health":
		err = getAndPrint(client, *addr+"/settings")
	case "generate":
		err = generate(client, *addr, *prompt)
	case "stop":
		err = postAndPrint(client, *addr+"/stop", nil)
	case "history":
		err = getAndPrint(client, *addr+"/history")
	default:
		fmt.Printf("unknown subcommand: %s\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gpuctl: %v\n", err)
		os.Exit(1)
	}
}

func generate(client *http.Client, addr, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("-prompt is required")
	}
	body, err := json.Marshal(map[string]any{"prompt": prompt})
	if err != nil {
		return err
	}
	return postAndPrint(client, addr+"/generate", bytes.NewReader(body))
}

func getAndPrint(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func postAndPrint(client *http.Client, url string, body io.Reader) error {
	resp, err := client.Post(url, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func printBody(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
