package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/fatrocu/internal/api"
	"github.com/kalambet/fatrocu/internal/config"
	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/orchestrator"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Queue documents for extraction",
	Long: `Queue documents for extraction. Each valid file becomes a job bound to the
chosen document config; invalid files are reported and skipped.

Examples:
  fatrocu submit fatura.pdf fis.jpg
  fatrocu submit --config predefined-okc ./fisler/*.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configID, _ := cmd.Flags().GetString("config")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.submit(cmd.Context(), configID, args)
		if err != nil {
			return err
		}

		var res orchestrator.SubmitResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		for _, j := range res.Accepted {
			printSuccess("Queued %s (%s)", j.FileName, j.ID)
		}
		for _, r := range res.Rejected {
			printError("Rejected %s: %s", r.FileName, r.Reason)
		}
		if len(res.Accepted) == 0 {
			return fmt.Errorf("no files were accepted")
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringP("config", "c", invoice.ConfigEArsiv, "document config id")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and manage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs")
		if err != nil {
			return err
		}
		var jobs []api.JobView
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}

		jobs = filterStatus(jobs, status)
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}
		printJobs(jobs)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(job)
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete jobs and their stored files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		failed := 0
		for _, id := range args {
			resp, err := client.delete(cmd.Context(), "/jobs/"+url.PathEscape(id))
			if err == nil {
				var out map[string]string
				err = decodeJSON(resp, &out)
			}
			if err != nil {
				printError("%s: %v", id, err)
				failed++
				continue
			}
			printSuccess("Deleted %s", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d job(s) could not be deleted", failed)
		}
		return nil
	},
}

var jobsFileCmd = &cobra.Command{
	Use:   "file <id>",
	Short: "Download the original file of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0])+"/file")
		if err != nil {
			return err
		}
		path, err := download(resp, dir, args[0])
		if err != nil {
			return err
		}
		printSuccess("Saved %s", path)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "only show jobs with this status (e.g. error, awaiting_review)")
	jobsFileCmd.Flags().StringP("output", "o", ".", "directory to write the file to")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsFileCmd)
}

func filterStatus(jobs []api.JobView, status string) []api.JobView {
	if status == "" {
		return jobs
	}
	want := invoice.Status(strings.ToLower(status))
	var out []api.JobView
	for _, j := range jobs {
		if j.Status == want {
			out = append(out, j)
		}
	}
	return out
}

func printJobs(jobs []api.JobView) {
	tw := newTable("ID\tFILE\tSTATUS\tREVIEW\tNOTES")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.FileName, j.Status, j.ReviewStatus, jobNote(j))
	}
	tw.Flush()
}

func jobNote(j api.JobView) string {
	if j.ErrorMessage != "" {
		return j.ErrorMessage
	}
	if n := len(j.Findings); n > 0 {
		return fmt.Sprintf("%d finding(s)", n)
	}
	return ""
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review extracted data",
}

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List jobs awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/review/pending")
		if err != nil {
			return err
		}
		var jobs []api.JobView
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("Nothing to review.")
			return nil
		}
		printJobs(jobs)
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a job, optionally correcting field values",
	Long: `Approve a job, optionally correcting field values first.

Examples:
  fatrocu review approve 0195a1c2-...
  fatrocu review approve 0195a1c2-... --set genelToplam=1.250,00 --next
  fatrocu review approve 0195a1c2-... --add-field "Sipariş No=S-2025-118"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		next, _ := cmd.Flags().GetBool("next")
		added, _ := cmd.Flags().GetStringArray("add-field")

		edits, err := parseAssignments(sets)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id := url.PathEscape(args[0])
		resp, err := client.get(cmd.Context(), "/jobs/"+id)
		if err != nil {
			return err
		}
		var job api.JobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		approval := approvalFor(job.Job, edits)
		if err := addCustomFields(&approval, added); err != nil {
			return err
		}
		if !next {
			resp, err := client.post(cmd.Context(), "/review/"+id+"/approve", approval)
			if err != nil {
				return err
			}
			var approved api.JobView
			if err := decodeJSON(resp, &approved); err != nil {
				return err
			}
			printSuccess("Approved %s", approved.FileName)
			printFindings(approved.Findings)
			return nil
		}

		resp, err = client.post(cmd.Context(), "/review/"+id+"/approve-next", approval)
		if err != nil {
			return err
		}
		var nav api.ApproveNextResponse
		if err := decodeJSON(resp, &nav); err != nil {
			return err
		}
		printSuccess("Approved %s", nav.Job.FileName)
		printFindings(nav.Job.Findings)
		if nav.Done {
			printStep("No jobs left to review")
		} else {
			printStep("Next: %s", nav.Next)
		}
		return nil
	},
}

var reviewUndoCmd = &cobra.Command{
	Use:   "undo <id>",
	Short: "Return an approved job to the review queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/review/"+url.PathEscape(args[0])+"/undo", nil)
		if err != nil {
			return err
		}
		var job api.JobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("%s is awaiting review again", job.FileName)
		return nil
	},
}

func init() {
	reviewApproveCmd.Flags().StringArray("set", nil, "override a field value (key=value, repeatable)")
	reviewApproveCmd.Flags().StringArray("add-field", nil, "add a custom field to this job (Label=value, repeatable)")
	reviewApproveCmd.Flags().Bool("next", false, "print the next job to review")
	reviewCmd.AddCommand(reviewPendingCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewUndoCmd)
}

// parseAssignments splits key=value pairs. Values may contain '='.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// approvalFor keeps the job's current data and applies edits on top. An
// edited value loses its source location.
func approvalFor(j invoice.Job, edits map[string]string) orchestrator.Approval {
	data := j.ExtractedData.Clone()
	if data == nil && len(edits) > 0 {
		data = make(invoice.Fields, len(edits))
	}
	for k, v := range edits {
		if data[k].Value != v {
			data[k] = invoice.GroundedValue{Value: v}
		}
	}
	return orchestrator.Approval{
		JobID:                j.ID,
		Data:                 data,
		LineItems:            j.LineItems,
		CustomFields:         j.CustomFields,
		CustomLineItemFields: j.CustomLineItemFields,
	}
}

// addCustomFields adds reviewer-defined fields given as Label=value. Keys
// are derived from the labels and must not clash with existing keys.
func addCustomFields(a *orchestrator.Approval, specs []string) error {
	if len(specs) == 0 {
		return nil
	}
	existing := append([]invoice.FieldConfig(nil), a.CustomFields...)
	for k := range a.Data {
		existing = append(existing, invoice.FieldConfig{Key: k})
	}
	if a.Data == nil {
		a.Data = make(invoice.Fields, len(specs))
	}
	for _, s := range specs {
		label, value, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("invalid field %q, want Label=value", s)
		}
		f, err := invoice.NewCustomField(label, existing)
		if err != nil {
			return err
		}
		existing = append(existing, f)
		a.CustomFields = append(a.CustomFields, f)
		a.Data[f.Key] = invoice.GroundedValue{Value: strings.TrimSpace(value)}
	}
	return nil
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export approved jobs as XLSX or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		dir, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/export?format="+url.QueryEscape(format))
		if err != nil {
			return err
		}
		path, err := download(resp, dir, "onaylanan-faturalar."+format)
		if err != nil {
			return err
		}
		printSuccess("Exported to %s", path)
		return nil
	},
}

var exportClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every approved job",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL approved jobs and their files. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/export/clear", nil)
		if err != nil {
			return err
		}
		var out map[string]int
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Cleared %d approved job(s)", out["cleared"])
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "xlsx", "export format: xlsx or csv")
	exportCmd.Flags().StringP("output", "o", ".", "directory to write the export to")
	exportClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	exportCmd.AddCommand(exportClearCmd)
}

// --- configs ---

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Manage document configs",
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List document configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/configs")
		if err != nil {
			return err
		}
		var cfgs []invoice.Config
		if err := decodeJSON(resp, &cfgs); err != nil {
			return err
		}

		tw := newTable("ID\tNAME\tFIELDS\tLINE ITEM FIELDS")
		for _, c := range cfgs {
			name := c.Name
			if c.IsPredefined {
				name += " (built-in)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", c.ID, name, len(c.Fields), len(c.LineItemFields))
		}
		return tw.Flush()
	},
}

var configsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a document config",
	Long: `Create a document config.

Examples:
  fatrocu configs add --name "Kira Faturası" --field kiraci=Kiracı --field tutar=Tutar
  fatrocu configs add --name "Elle Giriş"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		fields, _ := cmd.Flags().GetStringArray("field")
		lineFields, _ := cmd.Flags().GetStringArray("line-field")

		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("--name is required")
		}
		cfg := invoice.Config{Name: name}
		var err error
		if cfg.Fields, err = parseFieldSpecs(fields); err != nil {
			return err
		}
		if cfg.LineItemFields, err = parseFieldSpecs(lineFields); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/configs", cfg)
		if err != nil {
			return err
		}
		var saved invoice.Config
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}
		printSuccess("Created config %s (%s)", saved.Name, saved.ID)
		return nil
	},
}

var configsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a user-defined document config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/configs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Deleted config %s", args[0])
		return nil
	},
}

func init() {
	configsAddCmd.Flags().String("name", "", "config name")
	configsAddCmd.Flags().StringArray("field", nil, "main field as key=Label (repeatable)")
	configsAddCmd.Flags().StringArray("line-field", nil, "line item field as key=Label (repeatable)")
	configsCmd.AddCommand(configsListCmd)
	configsCmd.AddCommand(configsAddCmd)
	configsCmd.AddCommand(configsDeleteCmd)
}

// parseFieldSpecs reads key=Label specs in order. A spec without a label
// uses the key as label.
func parseFieldSpecs(specs []string) ([]invoice.FieldConfig, error) {
	var out []invoice.FieldConfig
	for _, s := range specs {
		k, label, _ := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("invalid field %q, want key=Label", s)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			label = k
		}
		out = append(out, invoice.FieldConfig{Key: k, Label: label})
	}
	return out, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if cfg.Extractor.APIKey == "" {
			printWarning("%s", config.MissingAPIKeyHint())
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Restore the default for a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ResetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Reset %s to its default", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}
