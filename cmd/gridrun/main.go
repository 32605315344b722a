// Command gridrun compiles a workflow and runs it against a single runtime:
// parse, merge arguments from the command line, compile, queue, then follow
// the execution over the status websocket with a progress bar.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/comfygrid/comfygrid/client"
	"github.com/comfygrid/comfygrid/graphapi"
)

func main() {
	cmd := &cli.Command{
		Name:      "gridrun",
		Usage:     "Compile and run a workflow against a ComfyUI runtime",
		ArgsUsage: "workflow.json",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Runtime base URL",
				Value:   "http://127.0.0.1:8188",
				Sources: cli.EnvVars("COMFYGRID_RUNTIME_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "set",
				Aliases: []string{"s"},
				Usage:   "Set a workflow input, name=value (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "info",
				Usage: "Print the workflow's exposed inputs and exit",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up on the execution after this long",
				Value: 10 * time.Minute,
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gridrun:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() != 1 {
		return errors.New("expected exactly one workflow file")
	}
	path := command.Args().First()

	c := client.NewRuntimeClient(command.String("address"))
	reg, err := client.NewRegistryCache(0).Get(ctx, c)
	if err != nil {
		return fmt.Errorf("fetch node catalog: %w", err)
	}

	graph, err := graphapi.NewGraphFromJSONFile(path)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	info, err := graphapi.ParseWorkflow(graph, name, reg)
	if err != nil {
		return err
	}

	if command.Bool("info") {
		printInfo(info)
		return nil
	}

	args, err := parseArgs(command.StringSlice("set"))
	if err != nil {
		return err
	}
	merged, report, err := graphapi.MergeArguments(graph, args, info)
	if err != nil {
		return err
	}
	if len(report.Missing) > 0 {
		return fmt.Errorf("arguments not applied: %s", strings.Join(report.Missing, ", "))
	}
	for _, extra := range report.Extra {
		slog.Warn("workflow has no such input", "name", extra)
	}

	prompt, compileErrs := graphapi.CompilePrompt(merged, reg)
	if len(compileErrs) > 0 {
		for _, ce := range compileErrs {
			slog.Error("compile", "node", ce.NodeID, "error", ce.Err)
		}
		return errors.New("workflow does not compile")
	}

	ctx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
	defer cancel()
	return execute(ctx, c, prompt)
}

// execute queues the prompt and follows it over the status websocket until a
// terminal frame, then prints the parsed result.
func execute(ctx context.Context, c *client.RuntimeClient, prompt graphapi.ApiPrompt) error {
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	done := make(chan error, 1)
	var promptID string
	var bar *progressbar.ProgressBar

	go func() {
		err := c.ListenStatus(listenCtx, func(msg client.StatusMessage) {
			if promptID != "" && msg.PromptID != "" && msg.PromptID != promptID {
				return
			}
			switch msg.Type {
			case client.TypeExecuting:
				bar = nil
				slog.Info("executing", "node", msg.NodeID)
			case client.TypeProgress:
				if bar == nil {
					bar = progressbar.Default(int64(msg.Max), "sampling")
				}
				bar.Set(msg.Value)
			case client.TypeFinished:
				done <- nil
			case client.TypeInterrupted:
				done <- errors.New("execution interrupted")
			case client.TypeError:
				done <- fmt.Errorf("node %s (%s): %s", msg.NodeID, msg.NodeType, msg.ErrorMessage)
			}
		}, 3)
		if err != nil && listenCtx.Err() == nil {
			done <- err
		}
	}()

	queued, err := c.QueuePrompt(ctx, prompt)
	if err != nil {
		return err
	}
	promptID = queued.PromptID
	slog.Info("queued", "prompt", promptID, "number", queued.Number)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		stopListening()
		if err != nil {
			return err
		}
	}

	history, err := c.GetHistory(ctx, promptID)
	if err != nil {
		return err
	}
	result, err := graphapi.ParseResult(history, c.BaseURL())
	if err != nil {
		return err
	}

	fmt.Printf("finished in %s\n", result.Duration)
	for _, text := range result.Texts {
		fmt.Printf("node %s: %s\n", text.NodeID, text.Text)
	}
	for _, asset := range result.Assets {
		fmt.Println(asset.URL)
	}
	return nil
}

func printInfo(info *graphapi.WorkflowInfo) {
	fmt.Printf("%s (%s)\n", info.Name, info.Category)
	for _, in := range info.Inputs {
		line := fmt.Sprintf("  %-24s %-8s node %d", in.Name, in.KindName, in.NodeID)
		if in.Default != nil {
			line += fmt.Sprintf("  default %v", in.Default)
		}
		fmt.Println(line)
	}
	for _, asset := range info.Assets {
		fmt.Printf("  requires %s/%s\n", asset.Folder, asset.Name)
	}
	for _, n := range info.CustomNodes {
		fmt.Printf("  custom node %s\n", n)
	}
}

// parseArgs turns name=value pairs into workflow arguments.  Values that
// parse as JSON keep their type; everything else stays a string.
func parseArgs(pairs []string) (map[string]interface{}, error) {
	retv := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad argument %q, want name=value", pair)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		retv[name] = v
	}
	return retv, nil
}
