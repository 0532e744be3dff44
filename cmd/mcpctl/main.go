// Command mcpctl is a thin CLI front end over the pool manager's public
// API: add a server, list the tools it advertises, call one, and report
// status. It is a pure consumer of internal/pool and internal/mcp, per
// spec.md §1's "external collaborators" boundary — the CLI carries none of
// the core engineering.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cloudcompilerr/mcp-runtime/internal/mcp"
	"github.com/cloudcompilerr/mcp-runtime/internal/pool"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func statusColor(state mcp.ConnectionState) string {
	switch state {
	case mcp.Ready:
		return green(string(state))
	case mcp.Errored:
		return red(string(state))
	case mcp.Disconnected:
		return gray(string(state))
	default:
		return yellow(string(state))
	}
}

func main() {
	manager := pool.NewManager()

	var configPath string

	root := &cobra.Command{
		Use:   "mcpctl",
		Short: "Inspect and drive an MCP server pool",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a .mcp.json manifest")

	root.AddCommand(
		addServerCmd(manager, &configPath),
		listToolsCmd(manager),
		callToolCmd(manager),
		statusCmd(manager),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func addServerCmd(manager *pool.Manager, configPath *string) *cobra.Command {
	var id, command string
	var args []string

	cmd := &cobra.Command{
		Use:   "add-server",
		Short: "Register and connect a server, either from --command or from the manifest at --config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()

			if *configPath != "" {
				loader := mcp.NewConfigLoader()
				cfg, err := loader.LoadFromPath(*configPath)
				if err != nil {
					return err
				}
				for name, serverCfg := range cfg.GetActiveServers() {
					if err := manager.AddServer(ctx, &pool.ServerConfig{
						ID:      name,
						Name:    name,
						Command: serverCfg.Command,
						Args:    serverCfg.Args,
						Env:     serverCfg.Env,
						Enabled: true,
					}); err != nil {
						return err
					}
				}
				fmt.Println(green("servers registered from manifest"))
				return nil
			}

			if id == "" || command == "" {
				return fmt.Errorf("--id and --command are required without --config")
			}
			return manager.AddServer(ctx, &pool.ServerConfig{
				ID: id, Name: id, Command: command, Args: args, Enabled: true,
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "server id")
	cmd.Flags().StringVar(&command, "command", "", "executable to launch")
	cmd.Flags().StringSliceVar(&args, "arg", nil, "argument (repeatable)")
	return cmd
}

func listToolsCmd(manager *pool.Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List the tool index and any naming conflicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools := manager.GetAllTools()
			for name, owner := range tools {
				fmt.Printf("%-30s %s\n", name, owner)
			}
			conflicts := manager.GetConflicts()
			for name, ids := range conflicts {
				fmt.Printf("%s %s advertised by %v\n", yellow("conflict:"), name, ids)
			}
			return nil
		},
	}
}

func callToolCmd(manager *pool.Manager) *cobra.Command {
	var toolName, argsJSON string

	cmd := &cobra.Command{
		Use:   "call-tool",
		Short: "Invoke a tool by name, routed by the active selection strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, ok := manager.GetClientForTool(toolName)
			if !ok {
				return fmt.Errorf("no ready server advertises tool %q", toolName)
			}

			var args map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := client.CallTool(ctx, toolName, args)
			if err != nil {
				return err
			}
			encoded, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(encoded))
			return nil
		},
	}
	cmd.Flags().StringVar(&toolName, "tool", "", "tool name")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON-encoded tool arguments")
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

func statusCmd(manager *pool.Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print every server's connection state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, status := range manager.ServerStatuses() {
				line := fmt.Sprintf("%-20s %s", status.ServerID, statusColor(status.State))
				if status.HasLatency {
					line += fmt.Sprintf("  latency=%s", status.LastLatency)
				}
				if status.HasError {
					line += "  " + red(status.LastError)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
