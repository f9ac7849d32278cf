package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage configuration profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add [type] [name]",
	Short: "Register a profile (llm, mcp, voice, toolkit)",
	Args:  cobra.ExactArgs(2),
	RunE:  runProfileAdd,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show [type] [name]",
	Short: "Show profile details",
	Args:  cobra.ExactArgs(2),
	RunE:  runProfileShow,
}

var profileDefaultCmd = &cobra.Command{
	Use:   "default [type] [name]",
	Short: "Promote a profile to the default for its type",
	Args:  cobra.ExactArgs(2),
	RunE:  runProfileDefault,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete [type] [name]",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(2),
	RunE:  runProfileDelete,
}

var (
	profileConfig  string
	profileSecret  string
	profileDefault bool
	profileType    string
)

func init() {
	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileShowCmd, profileDefaultCmd, profileDeleteCmd)

	profileAddCmd.Flags().StringVar(&profileConfig, "config", "", "Profile configuration as JSON")
	profileAddCmd.Flags().StringVar(&profileSecret, "secret", "", "Encrypted credential blob")
	profileAddCmd.Flags().BoolVar(&profileDefault, "default", false, "Mark as the default for its type")

	profileListCmd.Flags().StringVar(&profileType, "type", "", "Filter by type (llm, mcp, voice, toolkit)")
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	var config json.RawMessage
	if profileConfig != "" {
		if !json.Valid([]byte(profileConfig)) {
			return fmt.Errorf("--config must be valid JSON")
		}
		config = json.RawMessage(profileConfig)
	}

	body := map[string]interface{}{
		"type":             args[0],
		"name":             args[1],
		"config":           config,
		"encrypted_secret": profileSecret,
		"is_default":       profileDefault,
	}

	resp, err := apiPost("/profiles", body)
	if err != nil {
		return err
	}

	var p models.Profile
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}
	fmt.Printf("Created profile %s\n", p.Ref())
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/profiles?type=" + profileType)
	if err != nil {
		return err
	}

	var profiles []models.Profile
	if err := json.Unmarshal(resp, &profiles); err != nil {
		return err
	}

	if len(profiles) == 0 {
		fmt.Println("No profiles found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tACTIVE\tDEFAULT\tLAST USED")
	for _, p := range profiles {
		lastUsed := "-"
		if p.LastUsedAt != nil {
			lastUsed = p.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n", p.Type, p.Name, p.IsActive, p.IsDefault, lastUsed)
	}
	w.Flush()
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/profiles/" + args[0] + "/" + args[1])
	if err != nil {
		return err
	}

	var p models.Profile
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}

	fmt.Printf("Ref:      %s\n", p.Ref())
	fmt.Printf("Active:   %v\n", p.IsActive)
	fmt.Printf("Default:  %v\n", p.IsDefault)
	if p.Config != nil {
		pretty, err := json.MarshalIndent(p.Config, "", "  ")
		if err == nil {
			fmt.Printf("Config:\n%s\n", pretty)
		}
	}
	if p.LastUsedAt != nil {
		fmt.Printf("Last use: %s\n", p.LastUsedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runProfileDefault(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/profiles/"+args[0]+"/"+args[1]+"/default", nil)
	if err != nil {
		return err
	}

	var p models.Profile
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}
	fmt.Printf("Default %s profile is now %s\n", p.Type, p.Name)
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDo("DELETE", "/profiles/"+args[0]+"/"+args[1], nil); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %s/%s\n", args[0], args[1])
	return nil
}
