package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/novadl/internal/output"
	"github.com/tanq16/novadl/internal/utils"
)

func newFetchCmd() *cobra.Command {
	var data string
	var form []string
	var outputPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch [URL] [--data JSON | --form KEY=VALUE]",
		Short: "Send a single request and print the response body",
		Long: `Send a single GET or POST request with the configured client.

Examples:
  novadl fetch https://api.example.com/status
  novadl fetch https://api.example.com/items --data '{"name":"x"}'
  novadl fetch https://example.com/login --form user=me --form pass=secret
  novadl fetch https://example.com/small.bin -o small.bin`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if data != "" && len(form) > 0 {
				output.PrintError("Cannot specify --data and --form together, choose one")
				os.Exit(1)
			}
			client := utils.NewNovaHTTPClient(cfg.HTTP)
			body, err := fetch(cmd.Context(), client, args[0], data, form, asJSON)
			if err != nil {
				output.PrintError(fmt.Sprintf("Request failed (%s): %v", utils.ErrorKind(err), err))
				os.Exit(1)
			}
			if outputPath == "" {
				fmt.Println(string(body))
				return
			}
			if _, err := os.Stat(outputPath); err == nil {
				outputPath = utils.RenewOutputPath(outputPath)
			}
			if err := os.WriteFile(outputPath, body, 0644); err != nil {
				output.PrintError(fmt.Sprintf("Error writing %s: %v", outputPath, err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Saved %s to %s", utils.FormatBytes(uint64(len(body))), outputPath))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON payload to POST")
	cmd.Flags().StringArrayVarP(&form, "form", "f", []string{}, "Form field to POST as KEY=VALUE; can be specified multiple times")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the response body to this file")
	cmd.Flags().BoolVar(&asJSON, "pretty", false, "Decode a JSON response and print it indented")
	return cmd
}

func fetch(ctx context.Context, client *utils.NovaHTTPClient, link, data string, form []string, pretty bool) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch {
	case data != "":
		var payload any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("%w: --data is not valid JSON: %v", utils.ErrOther, err)
		}
		return client.PostJSON(ctx, link, payload)
	case len(form) > 0:
		values := url.Values{}
		for _, field := range form {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				return nil, fmt.Errorf("%w: form field %q is not KEY=VALUE", utils.ErrOther, field)
			}
			values.Add(key, value)
		}
		return client.PostForm(ctx, link, values)
	case pretty:
		var decoded any
		if err := client.GetJSON(ctx, link, &decoded); err != nil {
			return nil, err
		}
		return json.MarshalIndent(decoded, "", "  ")
	default:
		text, err := client.GetText(ctx, link)
		return []byte(text), err
	}
}
