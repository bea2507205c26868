package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rexliu/topics/pkg/config"
	"github.com/rexliu/topics/pkg/interchange"
	"github.com/rexliu/topics/pkg/ipc"
	"github.com/rexliu/topics/pkg/query"
)

func newInitCmd(g *globals) *cobra.Command {
	var (
		name  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a local profile (writes config.toml)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(g.profile, 0o700); err != nil {
				return err
			}
			path := filepath.Join(g.profile, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			cfg := config.DefaultProfile(name)
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "initialized profile %s at %s\n", cfg.ProfileName, g.profile)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "dev", "Profile name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config if present")
	return cmd
}

func newPingCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Call the daemon ping endpoint via IPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := g.call(cmd.Context(), "ping", nil)
			if err != nil {
				return err
			}
			var data struct {
				Now int64 `json:"now"`
			}
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "daemon responded: now=%d\n", data.Now)
			return nil
		},
	}
}

func newTreeCmd(g *globals) *cobra.Command {
	var (
		root    string
		related []int64
		opts    = query.DefaultOptions()
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Query the topic tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := map[string]any{"root": root, "options": opts}
			if cmd.Flags().Changed("related") {
				params["related"] = related
			}
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "get_tree", params)
		},
	}
	f := cmd.Flags()
	f.StringVar(&root, "root", "", "Unique key of the query root (default: graph root)")
	f.Int64SliceVar(&related, "related", nil, "Topic ids reported as checked")
	f.BoolVar(&opts.ShowRoot, "show-root", false, "Wrap results in the root node")
	f.BoolVar(&opts.ShowAll, "show-all", false, "Include hidden and disabled topics")
	f.BoolVar(&opts.IsRecursive, "recursive", false, "Descend below the first level")
	f.BoolVar(&opts.FlattenStructure, "flatten", false, "Return a flat pre-order list")
	f.BoolVar(&opts.ShowNestedTopics, "nested", false, "Include topics nested inside lists")
	f.BoolVar(&opts.UsePartialMatch, "partial", false, "Match attribute values by substring")
	f.IntVar(&opts.ResultLimit, "limit", -1, "Maximum nodes (-1 for no limit)")
	f.StringVar(&opts.AttributeName, "attr", "", "Attribute name filter")
	f.StringVar(&opts.AttributeValue, "value", "", "Attribute value filter")
	f.StringVarP(&opts.Query, "query", "q", "", "Space-separated search terms")
	return cmd
}

func newInheritedCmd(g *globals) *cobra.Command {
	var (
		relative, includeCurrent bool
		truncateAt               []string
	)
	cmd := &cobra.Command{
		Use:   "inherited <uniqueKey> <attribute>",
		Short: "Resolve an inherited attribute value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "resolve_inherited", map[string]any{
				"topic":               args[0],
				"key":                 args[1],
				"relativeToPath":      relative,
				"includeCurrentTopic": includeCurrent,
				"truncateAt":          truncateAt,
			})
		},
	}
	cmd.Flags().BoolVar(&relative, "relative", false, "Append the path from the source ancestor")
	cmd.Flags().BoolVar(&includeCurrent, "include-current", false, "Include the topic itself")
	cmd.Flags().StringSliceVar(&truncateAt, "truncate-at", nil, "Cut the relative path after these keys")
	return cmd
}

func newSelectCmd(g *globals) *cobra.Command {
	var attr, value, allowed string
	cmd := &cobra.Command{
		Use:   "select <scopeUniqueKey>",
		Short: "List selectable topics under a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "select_list", map[string]any{
				"scope":          args[0],
				"attributeName":  attr,
				"attributeValue": value,
				"allowedKeys":    allowed,
			})
		},
	}
	cmd.Flags().StringVar(&attr, "attr", "", "Attribute name to match on descendants")
	cmd.Flags().StringVar(&value, "value", "", "Attribute value to match")
	cmd.Flags().StringVar(&allowed, "allowed", "", "Comma-separated allow-list of keys")
	return cmd
}

func newApplyCmd(g *globals) *cobra.Command {
	var file, inline string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Send an apply_ops payload (JSON) to the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readInput(cmd.InOrStdin(), file, inline)
			if err != nil {
				return err
			}
			if len(payload) == 0 {
				return fmt.Errorf("empty apply_ops payload")
			}
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "apply_ops", json.RawMessage(payload))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to JSON payload (defaults to stdin)")
	cmd.Flags().StringVar(&inline, "ops", "", "Inline JSON payload")
	return cmd
}

func newExportCmd(g *globals) *cobra.Command {
	var (
		recursive    bool
		format, path string
		out          string
	)
	cmd := &cobra.Command{
		Use:   "export [uniqueKey]",
		Short: "Export a topic subtree as JSON or YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"recursive": recursive, "format": format, "path": path}
			if len(args) == 1 {
				params["topic"] = args[0]
			}
			raw, err := g.call(cmd.Context(), "export", params)
			if err != nil {
				return err
			}
			if path != "" {
				return printJSON(cmd.OutOrStdout(), raw)
			}
			var res struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			if out != "" {
				return os.WriteFile(out, []byte(res.Content), 0o600)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), res.Content)
			return err
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Include descendants")
	cmd.Flags().StringVar(&format, "format", "json", "json or yaml")
	cmd.Flags().StringVar(&path, "path", "", "JSONPath expression evaluated over the export")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newImportCmd(g *globals) *cobra.Command {
	var parent, format, strategy string
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a JSON or YAML topic document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				content []byte
				err     error
			)
			if args[0] == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			if format == "" {
				format = formatFromExt(args[0])
			}
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "import", map[string]any{
				"parent":   parent,
				"format":   format,
				"content":  string(content),
				"strategy": strategy,
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "Unique key of the parent topic (default: graph root)")
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default: from file extension)")
	cmd.Flags().StringVar(&strategy, "strategy", string(interchange.StrategyMerge), "merge or overwrite")
	return cmd
}

func newVersionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <topicId>",
		Short: "List attribute revisions of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid topic id %q", args[0])
			}
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "versions", map[string]any{"topicId": id})
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream tree_changed events from the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			socket, err := g.socketPath()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(w, "Subscribed to tree_changed events (Ctrl+C to exit)")
			return ipc.Subscribe(cmd.Context(), socket, "subscribe_events", nil, func(frame []byte) error {
				_, err := fmt.Fprintln(w, string(frame))
				return err
			})
		},
	}
}

func newSnapshotCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the latest snapshot via IPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), "get_snapshot", nil)
		},
	}
}

func newDiagCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print profile configuration paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadProfile(g.profile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Profile: %s\n", cfg.ProfileName)
			fmt.Fprintf(w, "Config: %s\n", filepath.Join(g.profile, config.FileName))
			fmt.Fprintf(w, "DB Path: %s\n", config.ResolvePath(g.profile, cfg.Storage.DBPath))
			fmt.Fprintf(w, "Socket: %s\n", config.ResolvePath(g.profile, cfg.IPC.SocketPath))
			if cfg.Logging.FilePath != "" {
				fmt.Fprintf(w, "Log File: %s\n", config.ResolvePath(g.profile, cfg.Logging.FilePath))
			}
			if cfg.HTTP.Enabled {
				fmt.Fprintf(w, "HTTP: %s\n", cfg.HTTP.Listen)
			}
			fmt.Fprintf(w, "VCS Branch: %s (enabled=%t)\n", cfg.VCS.Branch, cfg.VCS.Enabled)
			if cfg.VCS.Remote.URL != "" {
				fmt.Fprintf(w, "Remote URL: %s\n", cfg.VCS.Remote.URL)
			}
			return nil
		},
	}
}

func newRemoteCmd(g *globals) *cobra.Command {
	remote := &cobra.Command{Use: "remote", Short: "Manage Git remote configuration"}

	var url, cred string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set the snapshot remote and enable VCS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			cfg, err := config.LoadProfile(g.profile)
			if err != nil {
				return err
			}
			cfg.VCS.Remote.URL = url
			cfg.VCS.Remote.CredentialRef = cred
			cfg.VCS.Enabled = true
			if err := config.Save(filepath.Join(g.profile, config.FileName), cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "remote set to %s\n", url)
			return nil
		},
	}
	set.Flags().StringVar(&url, "url", "", "Remote Git URL")
	set.Flags().StringVar(&cred, "credential", "", "Environment variable holding an HTTP token (optional)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the configured remote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadProfile(g.profile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if cfg.VCS.Remote.URL == "" {
				fmt.Fprintln(w, "remote not configured")
				return nil
			}
			fmt.Fprintf(w, "remote URL: %s\n", cfg.VCS.Remote.URL)
			if cfg.VCS.Remote.CredentialRef != "" {
				fmt.Fprintf(w, "credential ref: %s\n", cfg.VCS.Remote.CredentialRef)
			}
			return nil
		},
	}
	remote.AddCommand(set, show)
	return remote
}

func newVCSCmd(g *globals) *cobra.Command {
	vcs := &cobra.Command{Use: "vcs", Short: "Trigger VCS push, pull or status via the daemon"}
	for _, sub := range []struct{ name, method, short string }{
		{"push", "vcs_push", "Push snapshots to the remote"},
		{"pull", "vcs_pull", "Pull snapshots and merge them into the graph"},
		{"status", "vcs_status", "Show snapshot repository status"},
	} {
		method := sub.method
		vcs.AddCommand(&cobra.Command{
			Use:   sub.name,
			Short: sub.short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return g.callAndPrint(cmd.Context(), cmd.OutOrStdout(), method, nil)
			},
		})
	}
	return vcs
}

func readInput(stdin io.Reader, file, inline string) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch {
	case file != "":
		payload, err = os.ReadFile(file)
	case inline != "":
		payload = []byte(inline)
	default:
		payload, err = io.ReadAll(stdin)
	}
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(payload))), nil
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return string(interchange.FormatYAML)
	}
	return string(interchange.FormatJSON)
}
