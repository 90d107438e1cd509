package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swarmline/internal/adapter"
	"swarmline/internal/backup"
	"swarmline/internal/changelog"
	"swarmline/internal/config"
	"swarmline/internal/domain"
	"swarmline/internal/infer"
	"swarmline/internal/server"
	"swarmline/internal/state"
	"swarmline/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "swl",
	Short: "Swarmline CLI",
	Long: `Swarmline is the shared state backbone for agent swarms.
All components read and write one domain-partitioned state tree; every
mutation is a dispatched action recorded in the change log. The sync
engine reconciles task files on disk with internal state in both
directions, detecting and resolving field-level conflicts.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SWARMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("source", "cli", "action source identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("source", rootCmd.PersistentFlags().Lookup("source"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(objectiveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// runtime bundles what most commands need: the store rebuilt from the
// change log, plus adapters stamped with the CLI's source tag.
type runtime struct {
	Workspace string
	Config    *config.Config
	Store     *state.Store
	Log       *changelog.Log
	Adapters  adapter.Adapters
}

func openRuntime() (*runtime, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	s := state.New()
	rt := &runtime{Workspace: workspace, Config: cfg, Store: s}
	if cfg.Changelog.Enabled {
		l, err := changelog.Open(resolvePath(workspace, cfg.Changelog.Path))
		if err != nil {
			return nil, err
		}
		if err := l.Replay(s); err != nil {
			l.Close()
			return nil, fmt.Errorf("replay change log: %w", err)
		}
		s.Sink = l
		rt.Log = l
	}
	rt.Adapters = adapter.New(s, viper.GetString("source"))
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.Log != nil {
		rt.Log.Close()
	}
}

// engines builds one sync engine per configured root.
func (rt *runtime) engines() (map[string]*syncer.Engine, error) {
	var policy infer.Policy = infer.None{}
	if len(rt.Config.Inference.Keywords) > 0 {
		policy = infer.NewKeywordPolicy(rt.Config.Inference.Keywords)
	}
	out := map[string]*syncer.Engine{}
	for _, sr := range rt.Config.Sync.Roots {
		root, err := sr.Root()
		if err != nil {
			return nil, err
		}
		root.Path = resolvePath(rt.Workspace, root.Path)
		e := syncer.New(rt.Store, root, policy, nil)
		out[e.Status().Root] = e
	}
	return out, nil
}

func withRuntime(fn func(*runtime) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func resolvePath(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create swarmline.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if projectID == "" {
				projectID = filepath.Base(mustAbs(workspace))
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (defaults to directory name)")
	return cmd
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				snap := rt.Store.Snapshot()
				taskCounts := map[string]int{}
				for _, t := range snap.Tasks.Tasks {
					taskCounts[string(t.Status)]++
				}
				agentCounts := map[string]int{}
				for _, a := range snap.Agents.Agents {
					agentCounts[string(a.Status)]++
				}
				out := map[string]any{
					"project":      rt.Config.Project.ID,
					"version":      snap.Version,
					"last_updated": snap.LastUpdated,
					"task_counts":  taskCounts,
					"agent_counts": agentCounts,
					"counters":     snap.Metrics.Counters,
					"last_sync":    snap.Orchestration.LastSync,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (state version %d)\n", rt.Config.Project.ID, snap.Version)
				fmt.Println("Tasks:")
				for status, c := range taskCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Agents:")
				for status, c := range agentCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				for root, rec := range snap.Orchestration.LastSync {
					fmt.Printf("Last sync %s: %s (%d tasks)\n", root, rec.CompletedAt.Format(time.RFC3339), rec.SyncedTasks)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow pending -> in_progress -> completed (blocked/cancelled are exits). Every change dispatches an action through the store so the change log and subscribers see it.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskNextCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				var tasks []domain.Task
				if status != "" {
					st := domain.TaskStatus(status)
					if !st.Valid() {
						return fmt.Errorf("unknown status %q", status)
					}
					tasks = rt.Adapters.Task.ListByStatus(st)
				} else {
					tasks = rt.Adapters.Task.List()
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Phase", "Progress"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssignedTo, t.Phase, fmt.Sprintf("%d%%", t.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				t, err := rt.Adapters.Task.ByID(args[0])
				if err != nil {
					return fmt.Errorf("task %s: %w", args[0], err)
				}
				return printJSONOrIndent(t)
			})
		},
	}
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var t domain.Task
	var status, priority, reason string
	var deps []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			t.Status = domain.TaskPending
			if status != "" {
				t.Status = domain.TaskStatus(status)
				if !t.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			p, err := domain.ParsePriority(priority)
			if err != nil {
				return err
			}
			t.Priority = p
			t.Dependencies = deps
			return withRuntime(func(rt *runtime) error {
				if err := rt.Adapters.Task.Upsert(t, reason); err != nil {
					return err
				}
				created, err := rt.Adapters.Task.ByID(t.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(created)
			})
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "task id (random UUID if omitted)")
	cmd.Flags().StringVar(&t.Title, "title", "", "title")
	cmd.Flags().StringVar(&t.Description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "initial status")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low, medium, high, critical)")
	cmd.Flags().StringArrayVar(&deps, "depends-on", []string{}, "dependency task id (repeatable)")
	cmd.Flags().StringVar(&t.Phase, "phase", "", "phase hint")
	cmd.Flags().StringVar(&t.AssignedTo, "assignee", "", "assignee agent id")
	cmd.Flags().StringVar(&t.Estimate, "estimate", "", "estimate")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var status, assignee, reason string
	var progress int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRuntime(func(rt *runtime) error {
				if status != "" {
					st := domain.TaskStatus(status)
					if !st.Valid() {
						return fmt.Errorf("unknown status %q", status)
					}
					if err := rt.Adapters.Task.SetStatus(id, st, reason); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("assignee") {
					if err := rt.Adapters.Task.Assign(id, assignee, reason); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("progress") {
					if err := rt.Adapters.Task.SetProgress(id, progress, reason); err != nil {
						return err
					}
				}
				t, err := rt.Adapters.Task.ByID(id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee agent id (empty clears)")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percent (0-100)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	return cmd
}

func taskNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next runnable pending task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				t, ok := rt.Adapters.Task.NextPending()
				if !ok {
					if viper.GetBool("json") {
						return printJSON(nil)
					}
					fmt.Println("no runnable pending task")
					return nil
				}
				return printJSONOrIndent(t)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentRegisterCmd())
	agent.AddCommand(agentStatusCmd())
	return agent
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				agents := rt.Adapters.Agent.List()
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Current Task", "Capabilities"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Status, a.CurrentTask, strings.Join(a.Capabilities, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agentRegisterCmd() *cobra.Command {
	var a domain.Agent
	var capabilities []string
	var reason string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			a.Status = domain.AgentIdle
			a.Capabilities = capabilities
			return withRuntime(func(rt *runtime) error {
				if err := rt.Adapters.Agent.Register(a, reason); err != nil {
					return err
				}
				registered, err := rt.Adapters.Agent.ByID(a.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(registered)
			})
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "agent id (random UUID if omitted)")
	cmd.Flags().StringVar(&a.Name, "name", "", "agent name")
	cmd.Flags().StringVar(&a.Type, "type", "", "agent type")
	cmd.Flags().StringArrayVar(&capabilities, "capability", []string{}, "capability (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentStatusCmd() *cobra.Command {
	var status, currentTask, reason string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update agent status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := domain.AgentStatus(status)
			if !st.Valid() {
				return fmt.Errorf("unknown agent status %q", status)
			}
			return withRuntime(func(rt *runtime) error {
				if err := rt.Adapters.Agent.SetStatus(args[0], st, currentTask, reason); err != nil {
					return err
				}
				a, err := rt.Adapters.Agent.ByID(args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (idle, busy, offline, error)")
	cmd.Flags().StringVar(&currentTask, "task", "", "current task id")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func memoryCmd() *cobra.Command {
	mem := &cobra.Command{
		Use:   "memory",
		Short: "Shared memory entries",
		Long:  "Namespaced key/value entries with optional TTL, shared by every component through the memory domain.",
	}
	mem.AddCommand(memoryGetCmd())
	mem.AddCommand(memorySetCmd())
	mem.AddCommand(memoryListCmd())
	mem.AddCommand(memoryDeleteCmd())
	return mem
}

func memoryGetCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a memory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				entry, err := rt.Adapters.Memory.Get(namespace, args[0])
				if err != nil {
					return fmt.Errorf("%s/%s: %w", namespace, args[0], err)
				}
				return printJSONOrIndent(entry)
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace")
	return cmd
}

func memorySetCmd() *cobra.Command {
	var namespace, reason string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a memory entry",
		Long:  "The value is stored as JSON when it parses as JSON, as a plain string otherwise.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				value = args[1]
			}
			return withRuntime(func(rt *runtime) error {
				if err := rt.Adapters.Memory.Put(namespace, args[0], value, ttl, reason); err != nil {
					return err
				}
				entry, err := rt.Adapters.Memory.Get(namespace, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(entry)
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time to live (0 means no expiry)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	return cmd
}

func memoryListCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				entries := rt.Adapters.Memory.List(namespace)
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Namespace", "Key", "Value", "Expires"})
				for _, e := range entries {
					expires := ""
					if !e.ExpiresAt.IsZero() {
						expires = e.ExpiresAt.Format(time.RFC3339)
					}
					value, _ := json.Marshal(e.Value)
					tw.AppendRow(table.Row{e.Namespace, e.Key, string(value), expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace filter (empty lists all)")
	return cmd
}

func memoryDeleteCmd() *cobra.Command {
	var namespace, reason string
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a memory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				return rt.Adapters.Memory.Delete(namespace, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	return cmd
}

func objectiveCmd() *cobra.Command {
	obj := &cobra.Command{
		Use:   "objective",
		Short: "Swarm objectives",
	}
	obj.AddCommand(objectiveShowCmd())
	obj.AddCommand(objectiveSetCmd())
	return obj
}

func objectiveShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active objective and its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				obj, ok := rt.Adapters.Swarm.Active()
				if !ok {
					if viper.GetBool("json") {
						return printJSON(nil)
					}
					fmt.Println("no active objective")
					return nil
				}
				progress, err := rt.Adapters.Swarm.Progress(obj.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"objective": obj, "progress": progress})
			})
		},
	}
	return cmd
}

func objectiveSetCmd() *cobra.Command {
	var obj domain.Objective
	var tasks []string
	var reason string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the swarm objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			if obj.ID == "" {
				obj.ID = uuid.NewString()
			}
			obj.Status = domain.ObjectivePlanning
			obj.TaskIDs = tasks
			return withRuntime(func(rt *runtime) error {
				if err := rt.Adapters.Swarm.SetObjective(obj, reason); err != nil {
					return err
				}
				set, err := rt.Adapters.Swarm.ByID(obj.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(set)
			})
		},
	}
	cmd.Flags().StringVar(&obj.ID, "id", "", "objective id (random UUID if omitted)")
	cmd.Flags().StringVar(&obj.Goal, "goal", "", "objective goal")
	cmd.Flags().StringVar(&obj.Strategy, "strategy", "", "strategy")
	cmd.Flags().StringArrayVar(&tasks, "task", []string{}, "task id in scope (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the change log")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func syncCmd() *cobra.Command {
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Task file synchronization",
		Long:  "Reconciles the task files under each configured root with internal state. Inward rounds read files, outward rounds write them, and watch keeps rounds running on file changes.",
	}
	sync.AddCommand(syncRunCmd())
	sync.AddCommand(syncOutCmd())
	sync.AddCommand(syncWatchCmd())
	return sync
}

func selectEngines(rt *runtime, name string) (map[string]*syncer.Engine, error) {
	engines, err := rt.engines()
	if err != nil {
		return nil, err
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("no sync roots configured")
	}
	if name == "" {
		return engines, nil
	}
	e, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown sync root %q", name)
	}
	return map[string]*syncer.Engine{name: e}, nil
}

func printResults(results map[string]syncer.Result) error {
	if viper.GetBool("json") {
		return printJSON(results)
	}
	failed := false
	for root, res := range results {
		fmt.Printf("%s: synced %d task(s), %d conflict(s) resolved\n", root, res.SyncedTasks, len(res.Conflicts))
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		for _, e := range res.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		if !res.Success {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("sync failed")
	}
	return nil
}

func syncRunCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one inward sync round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				engines, err := selectEngines(rt, root)
				if err != nil {
					return err
				}
				results := map[string]syncer.Result{}
				for name, e := range engines {
					results[name] = e.Sync()
				}
				return printResults(results)
			})
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "sync root name (all roots if omitted)")
	return cmd
}

func syncOutCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "out",
		Short: "Write internal tasks out to the task files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				engines, err := selectEngines(rt, root)
				if err != nil {
					return err
				}
				results := map[string]syncer.Result{}
				for name, e := range engines {
					results[name] = e.SyncOut()
				}
				return printResults(results)
			})
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "sync root name (all roots if omitted)")
	return cmd
}

func syncWatchCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch task files and sync on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				engines, err := selectEngines(rt, root)
				if err != nil {
					return err
				}
				for name, e := range engines {
					if res := e.Sync(); !res.Success {
						fmt.Printf("initial sync of %s failed: %s\n", name, strings.Join(res.Errors, "; "))
					}
					if err := e.Watch(); err != nil {
						fmt.Printf("watcher for %s degraded, manual sync only: %v\n", name, err)
						continue
					}
					defer e.Close()
					fmt.Printf("watching %s\n", name)
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "sync root name (all roots if omitted)")
	return cmd
}

func backupCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "backup",
		Short: "Task backups",
	}
	b.AddCommand(backupCreateCmd())
	b.AddCommand(backupRestoreCmd())
	return b
}

func backupCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a task snapshot to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				n, err := backup.Create(resolvePath(rt.Workspace, file), rt.Adapters.Task, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"file": file, "tasks": n})
				}
				fmt.Printf("Backed up %d task(s) to %s\n", n, file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "backup file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func backupRestoreCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore tasks from a snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				n, err := backup.Restore(resolvePath(rt.Workspace, file), rt.Adapters.Task)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"file": file, "tasks": n})
				}
				fmt.Printf("Restored %d task(s) from %s\n", n, file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "backup file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Change log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				if rt.Log == nil {
					return fmt.Errorf("change log is disabled in %s", config.Path(rt.Workspace))
				}
				records, err := rt.Log.Tail(n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Time", "Verb", "Path", "Source"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.Seq, r.Timestamp.Format(time.RFC3339), r.Verb, r.Path, r.Source})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of changes")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(rt *runtime) error {
				if addr == "" {
					addr = rt.Config.Server.Addr
				}
				if addr == "" {
					return fmt.Errorf("no listen address; set --addr or server.addr in %s", config.Path(rt.Workspace))
				}
				secret := os.Getenv("SWARMLINE_JWT_SECRET")
				if secret == "" {
					secret = rt.Config.Server.JWTSecret
				}
				if secret == "" {
					return fmt.Errorf("SWARMLINE_JWT_SECRET or server.jwt_secret is required for bearer auth")
				}
				engines, err := rt.engines()
				if err != nil {
					return err
				}
				if watch {
					for name, e := range engines {
						if err := e.Watch(); err != nil {
							fmt.Printf("watcher for %s degraded, manual sync only: %v\n", name, err)
							continue
						}
						defer e.Close()
					}
				}
				handler, err := server.New(server.Config{
					Store:    rt.Store,
					Syncers:  engines,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
				})
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Swarmline API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&watch, "watch", true, "watch sync roots while serving")
	return cmd
}

// --- helpers ---

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
