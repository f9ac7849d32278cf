package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit [description]",
	Short: "Submit a new task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSubmit,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause [task-id]",
	Short: "Pause a running task",
	Args:  cobra.ExactArgs(1),
	RunE:  taskAction("pause"),
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume [task-id]",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE:  taskAction("resume"),
}

var taskStopCmd = &cobra.Command{
	Use:   "stop [task-id]",
	Short: "Stop a task",
	Args:  cobra.ExactArgs(1),
	RunE:  taskAction("stop"),
}

var taskStartCmd = &cobra.Command{
	Use:   "start [task-id]",
	Short: "Dispatch a pending task immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  taskAction("start"),
}

var taskResultCmd = &cobra.Command{
	Use:   "result [task-id]",
	Short: "Show the classified execution result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskResult,
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show the task's transition history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskHistory,
}

var (
	taskSession    string
	taskProfile    string
	taskStatusFlag string
)

func init() {
	taskCmd.AddCommand(taskSubmitCmd, taskListCmd, taskShowCmd, taskStartCmd,
		taskPauseCmd, taskResumeCmd, taskStopCmd, taskResultCmd, taskHistoryCmd)

	taskSubmitCmd.Flags().StringVar(&taskSession, "session", "", "Session to queue the task under")
	taskSubmitCmd.Flags().StringVar(&taskProfile, "profile", "", "Profile reference (type/name)")

	taskListCmd.Flags().StringVar(&taskStatusFlag, "status", "", "Filter by status (pending, running, paused, completed, failed, stopped)")
	taskListCmd.Flags().StringVar(&taskSession, "session", "", "Filter by session")
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"description": args[0],
		"session_id":  taskSession,
		"profile_ref": taskProfile,
	}

	resp, err := apiPost("/tasks", body)
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Submitted task: %s\n", task.ID)
	fmt.Printf("Session:        %s\n", task.SessionID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/tasks?status=" + taskStatusFlag + "&session=" + taskSession

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var tasks []models.Task
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tDESCRIPTION\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncateID(t.ID), truncateID(t.SessionID), truncate(t.Description, 40), statusStyled(t.Status))
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Session:     %s\n", task.SessionID)
	fmt.Printf("Description: %s\n", task.Description)
	fmt.Printf("Status:      %s\n", statusStyled(task.Status))
	if task.ProfileRef != "" {
		fmt.Printf("Profile:     %s\n", task.ProfileRef)
	}
	if task.ErrorMessage != "" {
		fmt.Printf("Error:       %s\n", errorStyle.Render(task.ErrorMessage))
	}
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
	if task.StartedAt != nil {
		fmt.Printf("Started:     %s\n", task.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if task.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", task.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// taskAction builds a RunE posting to /tasks/{id}/{action} and printing the
// resulting status.
func taskAction(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := apiPost("/tasks/"+args[0]+"/"+action, nil)
		if err != nil {
			return err
		}

		var task models.Task
		if err := json.Unmarshal(resp, &task); err != nil {
			return err
		}
		fmt.Printf("Task %s is now %s\n", truncateID(task.ID), statusStyled(task.Status))
		return nil
	}
}

func runTaskHistory(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/history")
	if err != nil {
		return err
	}

	var history []models.TaskTransition
	if err := json.Unmarshal(resp, &history); err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Println("No transitions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tFROM\tTO\tDETAIL")
	for _, h := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			h.RecordedAt.Format("15:04:05"), h.FromStatus, h.ToStatus, h.Detail)
	}
	w.Flush()
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
