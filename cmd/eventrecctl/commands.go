// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/eventrec/internal/eventprocessor"
	"github.com/tomtom215/eventrec/internal/models"
	"github.com/tomtom215/eventrec/internal/recommend"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Record an interaction",
		Long: `Record a user interaction with an event.

By default the interaction goes through the server's collector endpoint.
With --nats it is published directly to JetStream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			eventID, _ := cmd.Flags().GetInt64("event")
			action, _ := cmd.Flags().GetString("action")
			messageID, _ := cmd.Flags().GetString("message-id")
			natsURL, _ := cmd.Flags().GetString("nats")

			kind, err := recommend.ParseActionKind(action)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			if natsURL != "" {
				event := eventprocessor.NewInteractionEvent(userID, eventID, kind)
				if messageID != "" {
					event.MessageID = messageID
				}
				if err := event.Validate(); err != nil {
					return err
				}
				if err := publishNATS(ctx, natsURL, event); err != nil {
					return err
				}
				return printResult(cmd, models.InteractionAccepted{
					MessageID: event.MessageID,
					Topic:     eventprocessor.TopicInteractions,
				})
			}

			accepted, err := clientFromFlags(cmd).RecordInteraction(ctx, interactionBody{
				MessageID: messageID,
				UserID:    userID,
				EventID:   eventID,
				Action:    kind.String(),
			})
			if err != nil {
				return err
			}
			return printResult(cmd, *accepted)
		},
	}

	cmd.Flags().Int64("user", 0, "User ID (required, > 0)")
	cmd.Flags().Int64("event", 0, "Event ID (required, > 0)")
	cmd.Flags().String("action", "", "Action: view, register or like")
	cmd.Flags().String("message-id", "", "Idempotency key; retries with the same key are deduplicated")
	cmd.Flags().String("nats", "", "Publish directly to this NATS URL instead of the HTTP collector")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func publishNATS(ctx context.Context, natsURL string, event *eventprocessor.InteractionEvent) error {
	pub, err := eventprocessor.NewPublisher(eventprocessor.DefaultPublisherConfig(natsURL), eventprocessor.NewWatermillLogger())
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer pub.Close()
	return pub.PublishInteraction(ctx, event)
}

func newSimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar",
		Short: "List events similar to an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, _ := cmd.Flags().GetInt64("event")
			userID, _ := cmd.Flags().GetInt64("user")
			maxResults, _ := cmd.Flags().GetInt("max")

			ctx, cancel := commandContext(cmd)
			defer cancel()

			result, err := clientFromFlags(cmd).SimilarEvents(ctx, eventID, userID, maxResults)
			if err != nil {
				return err
			}
			return printResult(cmd, *result)
		},
	}
	cmd.Flags().Int64("event", 0, "Event ID (required)")
	cmd.Flags().Int64("user", 0, "Exclude events this user interacted with (0 = anonymous)")
	cmd.Flags().Int("max", 10, "Maximum number of results")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict events a user is likely to interact with",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			maxResults, _ := cmd.Flags().GetInt("max")

			ctx, cancel := commandContext(cmd)
			defer cancel()

			result, err := clientFromFlags(cmd).UserPredictions(ctx, userID, maxResults)
			if err != nil {
				return err
			}
			return printResult(cmd, *result)
		},
	}
	cmd.Flags().Int64("user", 0, "User ID (required)")
	cmd.Flags().Int("max", 10, "Maximum number of results")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts EVENT_ID...",
		Short: "Show distinct-user interaction counts for events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			result, err := clientFromFlags(cmd).InteractionCounts(ctx, ids)
			if err != nil {
				return err
			}
			return printResult(cmd, *result)
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid event ID %q", arg)
		}
		if id <= 0 {
			return nil, errors.New("event IDs must be positive")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// printResult writes v as JSON with --json, otherwise as plain text.
func printResult(cmd *cobra.Command, v interface{}) error {
	out := cmd.OutOrStdout()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch r := v.(type) {
	case models.ScoredEventsResponse:
		printScored(out, r)
	case models.InteractionAccepted:
		fmt.Fprintf(out, "accepted %s on %s\n", r.MessageID, r.Topic)
	default:
		fmt.Fprintf(out, "%v\n", v)
	}
	return nil
}

func printScored(out io.Writer, r models.ScoredEventsResponse) {
	if r.Count == 0 {
		fmt.Fprintln(out, "no results")
		return
	}
	fmt.Fprintf(out, "%-12s %s\n", "EVENT", "SCORE")
	for _, e := range r.Events {
		fmt.Fprintf(out, "%-12d %.4f\n", e.EventID, e.Score)
	}
}
