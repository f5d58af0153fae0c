package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/pipeline"
)

type runner interface {
	Run(ctx context.Context, turns []pipeline.Turn, userID, conversationID string) (pipeline.Result, error)
}

func chatCmd() *cobra.Command {
	var userID, conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the pipeline from the terminal",
		Long:  `solace chat --user=<id> [--conversation=<id>]`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, _, closeAll, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			return chatLoop(cmd.Context(), res.Pipeline, cmd.InOrStdin(), cmd.OutOrStdout(), userID, conversationID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id whose memories are read and written")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id recorded with each memory")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// chatLoop reads one user message per line and prints each reply. History
// lives in memory for the lifetime of the loop; "/quit" or EOF ends it.
func chatLoop(ctx context.Context, r runner, in io.Reader, out io.Writer, userID, conversationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var history []pipeline.Turn
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		}

		turns := append(history, pipeline.Turn{Role: llm.RoleUser, Content: line, Position: len(history)})
		result, err := r.Run(ctx, turns, userID, conversationID)
		if err != nil {
			return err
		}
		history = result.Turns
		fmt.Fprintf(out, "%s\n> ", result.Reply)
	}
	return scanner.Err()
}
