// Command decide walks the signed-in user through pending proposals from a
// terminal, one at a time, refreshing as the group votes.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"huddle/api/internal/client"
	"huddle/api/internal/feed"
	"huddle/api/internal/queue"
	"huddle/api/internal/store"
)

func main() {
	apiURL := flag.String("api", envOr("HUDDLE_API_URL", "http://localhost:8787"), "Huddle API base URL")
	name := flag.String("name", os.Getenv("USER"), "display name to sign in as")
	flag.Parse()

	if strings.TrimSpace(*name) == "" {
		log.Fatal("a -name is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client.New(*apiURL), *name, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, api *client.Client, name string, in io.Reader, out io.Writer) error {
	if err := api.Login(ctx, name); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	groups, err := api.Groups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	hub := feed.NewHub()
	q := queue.New(api)
	unbind, err := q.Bind(ctx, hub, groupIDs)
	if err != nil {
		return err
	}
	defer unbind()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go func() {
		if err := api.Stream(streamCtx, hub); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("decide: live updates stopped: %v", err)
		}
	}()

	lines := bufio.NewScanner(in)
	for {
		current, ok := q.Current()
		if !ok {
			fmt.Fprintln(out, "Nothing left to decide.")
			return nil
		}
		printDecision(out, current, q.Remaining())
		fmt.Fprint(out, "[y]es / [m]aybe / [n]o / [s]kip / [q]uit > ")

		if !lines.Scan() {
			return lines.Err()
		}
		switch strings.ToLower(strings.TrimSpace(lines.Text())) {
		case "y", "yes":
			vote(ctx, out, q, store.VoteYes)
		case "m", "maybe":
			vote(ctx, out, q, store.VoteMaybe)
		case "n", "no":
			vote(ctx, out, q, store.VoteNo)
		case "s", "skip":
			q.Dismiss()
		case "q", "quit":
			return nil
		default:
			fmt.Fprintln(out, "Type y, m, n, s or q.")
		}
	}
}

func vote(ctx context.Context, out io.Writer, q *queue.Queue, value store.VoteValue) {
	result, err := q.Vote(ctx, value)
	var apiErr *client.APIError
	switch {
	case err == nil:
	case result.ProposalID != "":
		log.Printf("decide: vote recorded, refresh failed: %v", err)
	case errors.As(err, &apiErr) && !apiErr.Temporary():
		fmt.Fprintf(out, "Vote rejected: %s\n", apiErr.Message)
		// The proposal is no longer votable; move past it.
		q.Dismiss()
		return
	default:
		fmt.Fprintf(out, "Vote failed, try again: %v\n", err)
		return
	}
	if result.Materialized {
		fmt.Fprintln(out, "It's happening! An event room is open.")
		return
	}
	fmt.Fprintf(out, "Recorded. %d/%d yes.\n", result.YesCount, result.Threshold)
}

func printDecision(out io.Writer, d store.PendingDecision, remaining int) {
	fmt.Fprintf(out, "\n(%d pending) %s in %s\n", remaining, d.Proposal.Title, d.GroupName)
	if d.Proposal.Description != nil && strings.TrimSpace(*d.Proposal.Description) != "" {
		fmt.Fprintln(out, strings.TrimSpace(*d.Proposal.Description))
	}
	fmt.Fprintf(out, "Needs %d yes, voting closes %s\n", d.Proposal.Threshold, d.Proposal.VoteWindowEndsAt.Local().Format("Mon Jan 2 15:04"))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
