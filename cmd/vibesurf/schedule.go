package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add [flow-ref]",
	Short: "Bind a cron expression to a flow",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE:  runScheduleList,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [schedule-id]",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleAction("enable"),
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable [schedule-id]",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleAction("disable"),
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete [schedule-id]",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var cronExpr string

func init() {
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleEnableCmd, scheduleDisableCmd, scheduleDeleteCmd)

	scheduleAddCmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression, e.g. '0 9 * * 1-5' (required)")
	scheduleAddCmd.MarkFlagRequired("cron")
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"flow_ref":        args[0],
		"cron_expression": cronExpr,
	}

	resp, err := apiPost("/schedules", body)
	if err != nil {
		return err
	}

	var sched models.Schedule
	if err := json.Unmarshal(resp, &sched); err != nil {
		return err
	}

	fmt.Printf("Created schedule: %s\n", sched.ID)
	if sched.NextExecutionAt != nil {
		fmt.Printf("Next fire:        %s\n", sched.NextExecutionAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/schedules")
	if err != nil {
		return err
	}

	var schedules []models.Schedule
	if err := json.Unmarshal(resp, &schedules); err != nil {
		return err
	}

	if len(schedules) == 0 {
		fmt.Println("No schedules found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFLOW\tCRON\tENABLED\tRUNS\tNEXT\tLAST ERROR")
	for _, s := range schedules {
		next := "-"
		if s.NextExecutionAt != nil {
			next = s.NextExecutionAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%s\t%s\n",
			truncateID(s.ID), s.FlowRef, s.CronExpression, s.IsEnabled, s.ExecutionCount, next, truncate(s.LastError, 40))
	}
	w.Flush()
	return nil
}

func scheduleAction(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := apiPost("/schedules/"+args[0]+"/"+action, nil)
		if err != nil {
			return err
		}

		var sched models.Schedule
		if err := json.Unmarshal(resp, &sched); err != nil {
			return err
		}
		fmt.Printf("Schedule %s enabled=%v\n", truncateID(sched.ID), sched.IsEnabled)
		return nil
	}
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDo("DELETE", "/schedules/"+args[0], nil); err != nil {
		return err
	}
	fmt.Printf("Deleted schedule %s\n", args[0])
	return nil
}
