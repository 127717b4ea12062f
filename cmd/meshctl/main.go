// meshctl is a small operator CLI for the mesh gateway: tail the live event
// stream or query correlated timelines.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blackroadhq/eventmesh/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "tail":
		err = runTail(os.Args[2:])
	case "correlate":
		err = runCorrelate(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  meshctl tail      -server URL -token TOKEN [-filter JSON] [-limit N]
  meshctl correlate -server URL -token TOKEN -key KEY -keyType TYPE`)
}

func runTail(args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "gateway base URL")
	token := fs.String("token", os.Getenv("EVENTMESH_TOKEN"), "bearer token")
	filterJSON := fs.String("filter", "", "event filter as JSON")
	limit := fs.Int("limit", 0, "stop after N events (0 = forever)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := url.Values{}
	if *filterJSON != "" {
		var f models.EventFilter
		if err := json.Unmarshal([]byte(*filterJSON), &f); err != nil {
			return fmt.Errorf("parse filter: %w", err)
		}
		query = filterQuery(f)
	}

	target := strings.TrimRight(*server, "/") + "/api/v1/events/stream"
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+*token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %s: %s", resp.Status, readBody(resp.Body))
	}

	seen := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var env models.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			continue
		}
		printEnvelope(env)
		seen++
		if *limit > 0 && seen >= *limit {
			return nil
		}
	}
	return scanner.Err()
}

func runCorrelate(args []string) error {
	fs := flag.NewFlagSet("correlate", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "gateway base URL")
	token := fs.String("token", os.Getenv("EVENTMESH_TOKEN"), "bearer token")
	key := fs.String("key", "", "correlation key value")
	keyType := fs.String("keyType", string(models.KeyTypeTrace), "one of: traceId releaseId assetId simId")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return fmt.Errorf("-key is required")
	}

	query := url.Values{"key": {*key}, "keyType": {*keyType}}
	target := strings.TrimRight(*server, "/") + "/api/v1/correlate?" + query.Encode()

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+*token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("query correlate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("correlate returned %s: %s", resp.Status, readBody(resp.Body))
	}

	var result models.CorrelatedTimeline
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("%s=%s  %d events\n", result.KeyType, result.Key, len(result.Timeline))
	for _, env := range result.Timeline {
		printEnvelope(env)
	}
	if len(result.Notes) > 0 {
		fmt.Println("notes:")
		for _, note := range result.Notes {
			fmt.Println("  -", note)
		}
	}
	return nil
}

func printEnvelope(env models.Envelope) {
	fmt.Printf("%s  %-7s %-6s %-8s %s\n",
		env.TS.Format(time.RFC3339), env.Source, env.Kind, env.Severity, env.Service)
}

func filterQuery(f models.EventFilter) url.Values {
	q := url.Values{}
	if len(f.Sources) > 0 {
		q.Set("sources", joinSources(f.Sources))
	}
	if len(f.Services) > 0 {
		q.Set("services", strings.Join(f.Services, ","))
	}
	if len(f.Kinds) > 0 {
		q.Set("kinds", joinKinds(f.Kinds))
	}
	if len(f.Severities) > 0 {
		q.Set("severities", joinSeverities(f.Severities))
	}
	if f.TraceID != "" {
		q.Set("traceId", f.TraceID)
	}
	if f.SpanID != "" {
		q.Set("spanId", f.SpanID)
	}
	if f.ReleaseID != "" {
		q.Set("releaseId", f.ReleaseID)
	}
	if f.AssetID != "" {
		q.Set("assetId", f.AssetID)
	}
	if f.SimID != "" {
		q.Set("simId", f.SimID)
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.Format(time.RFC3339))
	}
	return q
}

func joinSources(vals []models.Source) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func joinKinds(vals []models.EventKind) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func joinSeverities(vals []models.Severity) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
