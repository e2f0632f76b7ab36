package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/chains"

	"github.com/sj48695/langchain-example/internal/helper"
	"github.com/sj48695/langchain-example/internal/memory"
	"github.com/sj48695/langchain-example/internal/models"
	"github.com/sj48695/langchain-example/internal/rag"
)

var (
	threadID   string
	threadJSON bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Chat with thread memory",
	Long: `Sends each message as one turn of the same thread and prints the reply.
Without --thread a new thread ID is generated and printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

var bufferChatCmd = &cobra.Command{
	Use:   "buffer-chat [message...]",
	Short: "Chat through a conversation chain with buffer memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBufferChat,
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List saved threads",
	Args:  cobra.NoArgs,
	RunE:  runThreads,
}

var threadsShowCmd = &cobra.Command{
	Use:   "show [thread-id]",
	Short: "Print a thread transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsShow,
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete [thread-id]",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsDelete,
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, bufferChatCmd, agentCmd} {
		c.Flags().StringVarP(&threadID, "thread", "t", "", "thread ID (default: a new one)")
	}
	threadsShowCmd.Flags().BoolVar(&threadJSON, "json", false, "output the thread as JSON")
	threadsCmd.AddCommand(threadsShowCmd, threadsDeleteCmd)
	rootCmd.AddCommand(chatCmd, bufferChatCmd, threadsCmd)
}

func currentThread(cmd *cobra.Command) string {
	if threadID == "" {
		threadID = memory.NewThreadID()
		cmd.Printf("thread: %s\n", threadID)
	}
	return threadID
}

// warnInProcessSaver flags thread commands that cannot see other runs.
func warnInProcessSaver(a *app) {
	if a.cfg.Memory.Backend == "memory" {
		log.Warn().Msg("In-process chat memory: threads from earlier runs are gone; set memory.backend to database to keep them")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, needChat|needSaver)
	if err != nil {
		return err
	}
	defer a.Close()

	conv := memory.NewConversation(a.llm, a.saver)
	thread := currentThread(cmd)
	for _, input := range args {
		out, err := conv.Invoke(ctx, thread, models.UserMessage(input))
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		cmd.Println(rag.Pretty(out[len(out)-1]))
	}
	return nil
}

func runBufferChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, needChat|needSaver)
	if err != nil {
		return err
	}
	defer a.Close()

	chain := memory.NewBufferChain(a.llm, a.saver, currentThread(cmd))
	for _, input := range args {
		out, err := chains.Call(ctx, chain, map[string]any{"input": input})
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		cmd.Println(out["text"])
	}
	return nil
}

func runThreads(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), needSaver)
	if err != nil {
		return err
	}
	defer a.Close()
	warnInProcessSaver(a)

	threads, err := a.saver.Threads(cmd.Context())
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		cmd.Println("No threads found.")
		return nil
	}
	for _, t := range threads {
		cmd.Println(t)
	}
	return nil
}

func runThreadsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), needSaver)
	if err != nil {
		return err
	}
	defer a.Close()
	warnInProcessSaver(a)

	msgs, err := a.saver.Transcript(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if threadJSON {
		helper.FprettyPrint(cmd.OutOrStdout(), models.Thread{ID: args[0], Messages: msgs})
		return nil
	}
	for _, m := range msgs {
		cmd.Println(rag.Pretty(m))
		cmd.Println("-----")
	}
	return nil
}

func runThreadsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), needSaver)
	if err != nil {
		return err
	}
	defer a.Close()
	warnInProcessSaver(a)
	return a.saver.Delete(cmd.Context(), args[0])
}
