package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todome/internal/app"
	"todome/internal/batch"
	"todome/internal/config"
	"todome/internal/domain"
	"todome/internal/engine"
	"todome/internal/snapshot"
	"todome/internal/undo"
)

var rootCmd = &cobra.Command{
	Use:   "todome",
	Short: "todome CLI",
	Long: `todome is a task and project manager with undoable mutations.
Destructive commands (complete, delete, edit, reschedule, archive) print an
undo token. Redeem it within its lifetime with 'todome undo <token>' to put
things back exactly as they were; each token works once.`,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TODOME")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory (default ~/.todome)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("owner", "local-user", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskQuickCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskRescheduleCmd())
	task.AddCommand(taskTodayCmd())
	task.AddCommand(taskUpcomingCmd())
	task.AddCommand(taskOverdueCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var tagNames []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				tagIDs, err := ensureTags(ctx, a, ownerID, tagNames)
				if err != nil {
					return err
				}
				opts.TagIDs = tagIDs
				t, err := a.Engine.CreateTask(ctx, ownerID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (pending, in_progress, completed)")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority 1 (highest) to 5 (lowest)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DueTime, "due-time", "", "due time (HH:MM)")
	cmd.Flags().StringArrayVar(&tagNames, "tag", []string{}, "tag name (repeatable)")
	cmd.Flags().BoolVar(&opts.Recurring, "recurring", false, "recurring task")
	cmd.Flags().StringVar(&opts.RecurrenceType, "recur", "", "recurrence (daily, weekly, monthly)")
	cmd.Flags().StringVar(&opts.RecurrenceRule, "recur-rule", "", "free-form recurrence rule")
	cmd.Flags().StringVar(&opts.RecurrenceEndDate, "recur-end", "", "recurrence end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskQuickCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "quick <input...>",
		Short: "Create a task from quick-add syntax",
		Long: `Quick-add syntax in one line, for example:
  todome task quick buy milk tomorrow at 18:00 #errands !2 every week`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, " ")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if dryRun {
					return printJSONOrTable(a.Engine.ParsePreview(input))
				}
				t, parsed, err := a.Engine.QuickAdd(ctx, viper.GetString("owner"), input)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task": t, "parsed": parsed})
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse only, create nothing")
	return cmd
}

func taskListCmd() *cobra.Command {
	var opts engine.TaskListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, total, err := a.Engine.ListTasks(ctx, viper.GetString("owner"), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": tasks, "total": total})
				}
				renderTaskTable(tasks)
				if total > len(tasks) {
					fmt.Printf("%d of %d tasks shown\n", len(tasks), total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&opts.TagID, "tag", "", "tag id filter")
	cmd.Flags().IntVar(&opts.PriorityMin, "priority-min", 0, "minimum priority")
	cmd.Flags().IntVar(&opts.PriorityMax, "priority-max", 0, "maximum priority")
	cmd.Flags().StringVar(&opts.Search, "search", "", "substring match on title/description")
	cmd.Flags().StringVar(&opts.DueBefore, "due-before", "", "due strictly before (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DueAfter, "due-after", "", "due on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.OrderBy, "order", "", "order (position, due, created)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "results offset")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskEditCmd() *cobra.Command {
	var title, description, project, due, dueTime, recurType, recurRule, recurEnd string
	var priority, position int
	var recurring bool
	var tagNames []string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Update a task (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				var opts engine.TaskUpdateOptions
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("project") {
					opts.ProjectID = &project
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("position") {
					opts.Position = &position
				}
				if cmd.Flags().Changed("due") {
					opts.DueDate = &due
				}
				if cmd.Flags().Changed("due-time") {
					opts.DueTime = &dueTime
				}
				if cmd.Flags().Changed("recurring") {
					opts.Recurring = &recurring
				}
				if cmd.Flags().Changed("recur") {
					opts.RecurrenceType = &recurType
				}
				if cmd.Flags().Changed("recur-rule") {
					opts.RecurrenceRule = &recurRule
				}
				if cmd.Flags().Changed("recur-end") {
					opts.RecurrenceEndDate = &recurEnd
				}
				if cmd.Flags().Changed("tag") {
					tagIDs, err := ensureTags(ctx, a, ownerID, tagNames)
					if err != nil {
						return err
					}
					opts.TagIDs = &tagIDs
				}
				t, prior, err := a.Engine.UpdateTask(ctx, ownerID, args[0], opts)
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindTaskUpdate, ownerID, snapshot.TaskEntry(prior))
				return printMutation(map[string]any{"task": t, "undo": token}, t, token)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description (empty clears)")
	cmd.Flags().StringVar(&project, "project", "", "project id (empty clears)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1..5")
	cmd.Flags().IntVar(&position, "position", 0, "manual ordering position")
	cmd.Flags().StringVar(&due, "due", "", "due date (empty clears)")
	cmd.Flags().StringVar(&dueTime, "due-time", "", "due time (empty clears)")
	cmd.Flags().StringArrayVar(&tagNames, "tag", []string{}, "replace tags with these names")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "recurring task")
	cmd.Flags().StringVar(&recurType, "recur", "", "recurrence (daily, weekly, monthly)")
	cmd.Flags().StringVar(&recurRule, "recur-rule", "", "free-form recurrence rule")
	cmd.Flags().StringVar(&recurEnd, "recur-end", "", "recurrence end date")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change task status (undoable)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd.Context(), args[0], "completed")
		},
	}
	return cmd
}

func changeStatus(ctx context.Context, id, status string) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		ownerID := viper.GetString("owner")
		t, spawned, snap, err := a.Engine.ChangeTaskStatus(ctx, ownerID, id, status)
		if err != nil {
			return err
		}
		token := issueToken(ctx, a, undo.KindTaskStatusChange, ownerID, snapshot.StatusEntry(snap))
		if !viper.GetBool("json") && spawned != nil {
			due := ""
			if spawned.DueDate != nil {
				due = " due " + *spawned.DueDate
			}
			fmt.Printf("Next occurrence scheduled: %s%s\n", spawned.ID, due)
		}
		return printMutation(map[string]any{"task": t, "spawnedTask": spawned, "undo": token}, t, token)
	})
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				prior, err := a.Engine.DeleteTask(ctx, ownerID, args[0])
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindTaskDelete, ownerID, snapshot.TaskEntry(prior))
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deletedTaskId": args[0], "undo": token})
				}
				fmt.Printf("Deleted task %s\n", args[0])
				printUndoHint(token)
				return nil
			})
		},
	}
	return cmd
}

func taskRescheduleCmd() *cobra.Command {
	var due, dueTime string
	var clear bool
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move a task's due date (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				var duePtr, timePtr *string
				if clear {
					empty := ""
					duePtr, timePtr = &empty, &empty
				} else {
					if cmd.Flags().Changed("due") {
						duePtr = &due
					}
					if cmd.Flags().Changed("due-time") {
						timePtr = &dueTime
					}
				}
				t, prior, err := a.Engine.RescheduleTask(ctx, ownerID, args[0], duePtr, timePtr)
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindTaskUpdate, ownerID, snapshot.TaskEntry(prior))
				return printMutation(map[string]any{"task": t, "undo": token}, t, token)
			})
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "new due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dueTime, "due-time", "", "new due time (HH:MM)")
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the due date entirely")
	return cmd
}

func taskTodayCmd() *cobra.Command {
	return taskViewCmd("today", "Tasks due today or overdue", func(ctx context.Context, a *app.App) ([]domain.Task, error) {
		return a.Engine.TodayTasks(ctx, viper.GetString("owner"))
	})
}

func taskOverdueCmd() *cobra.Command {
	return taskViewCmd("overdue", "Tasks past their due date", func(ctx context.Context, a *app.App) ([]domain.Task, error) {
		return a.Engine.OverdueTasks(ctx, viper.GetString("owner"))
	})
}

func taskUpcomingCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Tasks due in the coming days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.UpcomingTasks(ctx, viper.GetString("owner"), days)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "horizon in days")
	return cmd
}

func taskViewCmd(use, short string, fetch func(context.Context, *app.App) ([]domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := fetch(ctx, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectAddCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectEditCmd())
	prj.AddCommand(projectArchiveCmd())
	prj.AddCommand(projectUnarchiveCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectAddCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, viper.GetString("owner"), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent project id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx, viper.GetString("owner"), includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Parent", "Archived"})
				for _, p := range items {
					parent := ""
					if p.ParentID != nil {
						parent = *p.ParentID
					}
					tw.AppendRow(table.Row{p.ID, p.Name, parent, p.Archived})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "all", false, "include archived projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectEditCmd() *cobra.Command {
	var name, description, parent string
	var position int
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Update a project (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				var opts engine.ProjectUpdateOptions
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("parent") {
					opts.ParentID = &parent
				}
				if cmd.Flags().Changed("position") {
					opts.Position = &position
				}
				p, prior, err := a.Engine.UpdateProject(ctx, ownerID, args[0], opts)
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindProjectUpdate, ownerID, snapshot.ProjectEntry(prior))
				return printMutation(map[string]any{"project": p, "undo": token}, p, token)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description (empty clears)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent project id (empty clears)")
	cmd.Flags().IntVar(&position, "position", 0, "manual ordering position")
	return cmd
}

func projectArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a project (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				p, prior, err := a.Engine.ArchiveProject(ctx, ownerID, args[0])
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindProjectArchive, ownerID, snapshot.ProjectEntry(prior))
				return printMutation(map[string]any{"project": p, "undo": token}, p, token)
			})
		},
	}
	return cmd
}

func projectUnarchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unarchive <id>",
		Short: "Unarchive a project (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				p, prior, err := a.Engine.UnarchiveProject(ctx, ownerID, args[0])
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindProjectUpdate, ownerID, snapshot.ProjectEntry(prior))
				return printMutation(map[string]any{"project": p, "undo": token}, p, token)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an empty project (undoable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ownerID := viper.GetString("owner")
				prior, err := a.Engine.DeleteProject(ctx, ownerID, args[0])
				if err != nil {
					return err
				}
				token := issueToken(ctx, a, undo.KindProjectDelete, ownerID, snapshot.ProjectEntry(prior))
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deletedProjectId": args[0], "undo": token})
				}
				fmt.Printf("Deleted project %s\n", args[0])
				printUndoHint(token)
				return nil
			})
		},
	}
	return cmd
}

func tagsCmd() *cobra.Command {
	tags := &cobra.Command{
		Use:   "tags",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListTags(ctx, viper.GetString("owner"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
	tags.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Create a tag (idempotent by name)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tag, err := a.Engine.EnsureTag(ctx, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tag)
			})
		},
	})
	return tags
}

func batchCmd() *cobra.Command {
	var filePath string
	var atomic bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Execute a batch of task mutations from a JSON file",
		Long: `The file holds either a bare JSON array of operations or an object
{"atomic": bool, "operations": [...]}. Each operation has an action
(create, update, delete, complete, reschedule), a taskId for non-create
actions ("$N" references the task created by operation N), and a data
object for actions that need one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var req struct {
				Atomic     bool          `json:"atomic"`
				Operations []batch.Entry `json:"operations"`
			}
			if err := json.Unmarshal(data, &req); err != nil || len(req.Operations) == 0 {
				var entries []batch.Entry
				if arrErr := json.Unmarshal(data, &entries); arrErr != nil {
					if err != nil {
						return fmt.Errorf("parse %s: %w", filePath, err)
					}
					return fmt.Errorf("parse %s: %w", filePath, arrErr)
				}
				req.Operations = entries
			}
			if cmd.Flags().Changed("atomic") {
				req.Atomic = atomic
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Batch.Execute(ctx, viper.GetString("owner"), req.Operations, req.Atomic)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%d/%d operations succeeded\n", res.Successful, res.Total)
				for _, entry := range res.Entries {
					if entry.Error != nil {
						fmt.Printf("  [%d] %s failed: %s\n", entry.Index, entry.Action, entry.Error.Message)
					}
				}
				for _, w := range res.Warnings {
					fmt.Println("warning:", w)
				}
				printUndoHint(res.Undo)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the batch JSON file")
	cmd.Flags().BoolVar(&atomic, "atomic", false, "all-or-nothing execution")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func undoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <token>",
		Short: "Redeem an undo token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Undo.ExecuteUndo(ctx, viper.GetString("owner"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Undid %s: %d task(s) restored, %d project(s) restored, %d task(s) removed\n",
					res.Kind, len(res.Tasks), len(res.Projects), len(res.RemovedTaskIDs))
				for _, w := range res.Warnings {
					fmt.Println("warning:", w)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "peek <token>",
		Short: "Inspect a token without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				token, err := a.Undo.PeekToken(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(token)
			})
		},
	})
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Full-text task search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.SearchTasks(ctx, viper.GetString("owner"), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func activityCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Recent activity, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.ListActivity(ctx, viper.GetString("owner"), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "ID"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind, e.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default todome.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := workspaceDir()
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filePath
			if path == "" {
				path = config.Path(workspaceDir())
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println(path, "is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "config file (default <workspace>/todome.yml)")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(workspaceDir())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			a, err := app.Open(app.Options{Workspace: workspaceDir(), Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := a.Handler()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving todome API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				addr, a.Config.Server.BasePath, a.Config.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// --- helpers ---

func workspaceDir() string {
	if ws := viper.GetString("workspace"); ws != "" {
		return ws
	}
	return app.DefaultWorkspace()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(app.Options{Workspace: workspaceDir()})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func ensureTags(ctx context.Context, a *app.App, ownerID string, names []string) ([]string, error) {
	var ids []string
	for _, name := range names {
		tag, err := a.Engine.EnsureTag(ctx, ownerID, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, tag.ID)
	}
	return ids, nil
}

func issueToken(ctx context.Context, a *app.App, kind, ownerID string, entry snapshot.Entry) *undo.Token {
	token, err := a.Undo.CreateToken(ctx, kind, ownerID, []snapshot.Entry{entry})
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: undo token could not be issued:", err)
		return nil
	}
	return &token
}

func printMutation(jsonBody map[string]any, v any, token *undo.Token) error {
	if viper.GetBool("json") {
		return printJSON(jsonBody)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	printUndoHint(token)
	return nil
}

func printUndoHint(token *undo.Token) {
	if token == nil {
		return
	}
	ttl := int(time.Until(token.ExpiresAt).Seconds())
	fmt.Printf("Undo with: todome undo %s (expires in %ds)\n", token.ID, ttl)
}

func renderTaskTable(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Pri", "Due"})
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = *t.DueDate
			if t.DueTime != nil {
				due += " " + *t.DueTime
			}
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, due})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
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
