// File: cmd/query.go
package cmd

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/portalq/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newQueryCmd() *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query <personal|cross-station|batch> <items.json>",
		Short: "Run one query batch and print the result envelope",
		Long: "Reads a JSON array of parameter objects from a file (or - for stdin), " +
			"runs them through one worker and prints the same envelope the HTTP API returns.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := schemas.ParseQueryType(args[0])
			if err != nil {
				return err
			}
			items, err := readItems(cmd, args[1])
			if err != nil {
				return err
			}

			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			// A single CLI run never needs more than one browser.
			cfg.SetEngineWorkers(1)

			_, components, err := buildComponents(cmd)
			if err != nil {
				return err
			}
			defer components.Shutdown(cmd.Context())

			results, err := components.Registry.Dispatch(cmd.Context(), q, items)
			env := schemas.Envelope{Code: schemas.CodeSuccess, Data: results}
			if err != nil {
				env = schemas.Envelope{Code: schemas.CodeInternal, Message: err.Error()}
				if schemas.IsClientError(err) {
					env.Code = schemas.CodeBadRequest
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(env); encErr != nil {
				return fmt.Errorf("failed to write result: %w", encErr)
			}
			return err
		},
	}

	queryCmd.Flags().Bool("isolate", false, "report per-item failures instead of failing the batch")
	bindFlag(queryCmd, "isolate", "engine.isolate_failures")
	return queryCmd
}

// readItems decodes a JSON array of parameter objects from path, or from
// stdin when path is "-".
func readItems(cmd *cobra.Command, path string) ([]schemas.Params, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read query items: %w", err)
	}

	var items []schemas.Params
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &schemas.ValidationError{Message: fmt.Sprintf("query items must be a JSON array of objects: %v", err)}
	}
	if items == nil {
		return nil, &schemas.ValidationError{Message: "query items must be a JSON array of objects"}
	}
	return items, nil
}
