package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-feedcast/internal/bus"
	"github.com/loqalabs/loqa-feedcast/internal/config"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/protocol"
)

type clientOptions struct {
	servers string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}
	root := &cobra.Command{
		Use:           "feedcast",
		Short:         "Client for a running feedcastd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.servers, "servers", "nats://localhost:4222", "comma separated NATS servers")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newSubmitCmd(opts),
		newDigestCmd(opts),
		newStatsCmd(opts),
		newVoicesCmd(opts),
		newVoiceCmd(opts),
		newHistoryCmd(opts),
		newSpeakCmd(opts),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func newSubmitCmd(opts *clientOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a JSON array of posts for narration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			posts, err := readPosts(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			var resp protocol.SubmitResponse
			return opts.request(cmd, protocol.SubjectPostsSubmit, protocol.SubmitRequest{Posts: posts}, &resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "posts file, - for stdin")
	return cmd
}

func newDigestCmd(opts *clientOptions) *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Produce a digest of recent items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp protocol.DigestResponse
			return opts.request(cmd, protocol.SubjectDigestRequest, protocol.DigestRequest{WindowHours: hours}, &resp)
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "window in hours, 0 for the server default")
	return cmd
}

func newStatsCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show processing statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp protocol.StatsResponse
			return opts.request(cmd, protocol.SubjectStatsRequest, struct{}{}, &resp)
		},
	}
}

func newVoicesCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List available voices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp protocol.VoicesResponse
			return opts.request(cmd, protocol.SubjectVoicesList, struct{}{}, &resp)
		},
	}
}

func newVoiceCmd(opts *clientOptions) *cobra.Command {
	voice := feed.DefaultVoice()
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Replace the narration voice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := voice.Validate(); err != nil {
				return err
			}
			var resp protocol.VoiceUpdateResponse
			return opts.request(cmd, protocol.SubjectVoiceUpdate, voice, &resp)
		},
	}
	cmd.Flags().StringVar(&voice.VoiceID, "id", voice.VoiceID, "voice id")
	cmd.Flags().StringVar(&voice.Style, "style", voice.Style, "voice style")
	cmd.Flags().IntVar(&voice.Rate, "rate", voice.Rate, "speaking rate, -10..10")
	cmd.Flags().IntVar(&voice.Pitch, "pitch", voice.Pitch, "pitch, -10..10")
	cmd.Flags().IntVar(&voice.Variation, "variation", voice.Variation, "variation, 1..10")
	return cmd
}

func newHistoryCmd(opts *clientOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List processed items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp protocol.HistoryResponse
			return opts.request(cmd, protocol.SubjectHistoryRequest, protocol.HistoryRequest{Limit: limit}, &resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "most recent items, 0 for all")
	return cmd
}

func newSpeakCmd(opts *clientOptions) *cobra.Command {
	voice := feed.DefaultVoice()
	cmd := &cobra.Command{
		Use:   "speak [text]",
		Short: "Narrate text with the active or the given voice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.SpeakRequest{Text: strings.Join(args, " ")}
			if cmd.Flags().Changed("id") || cmd.Flags().Changed("style") {
				if err := voice.Validate(); err != nil {
					return err
				}
				req.VoiceConfig = &voice
			}
			var resp protocol.SpeakResponse
			return opts.request(cmd, protocol.SubjectSpeakRequest, req, &resp)
		},
	}
	cmd.Flags().StringVar(&voice.VoiceID, "id", voice.VoiceID, "voice id, defaults to the active voice")
	cmd.Flags().StringVar(&voice.Style, "style", voice.Style, "voice style")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a feedcastd configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "feedcast.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config valid")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func readPosts(stdin io.Reader, path string) ([]feed.Post, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var posts []feed.Post
	if err := json.NewDecoder(r).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

func (o *clientOptions) request(cmd *cobra.Command, subject string, req, resp any) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := bus.Connect(cmd.Context(), config.BusConfig{
		Servers:        strings.Split(o.servers, ","),
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	if err := client.RequestJSON(ctx, subject, req, resp); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
