package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/agent"
	"github.com/sells-group/signal-pipeline/internal/model"
)

var scoreWithLLM bool

// scoreInput is the document the score command reads: company attributes
// plus optional recent events and previously detected signals.
type scoreInput struct {
	CompanyID   int64          `json:"company_id"`
	CompanyData map[string]any `json:"company_data"`
	Events      []model.Event  `json:"events"`
	Signals     []model.Signal `json:"signals"`
}

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score a company from a JSON document",
	Long:  "Runs enrichment and scoring over a company document read from the given file or stdin, and prints the score breakdown.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input scoreInput
		data, err := readInput(args)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return eris.Wrap(err, "parse input document")
		}

		state := model.NewPipelineState(input.CompanyID, input.CompanyData)
		state.Events = input.Events
		state.Signals = input.Signals

		var llm = initLLM()
		if !scoreWithLLM {
			llm = nil
		}

		state = agent.ExecuteAll(cmd.Context(), []agent.Stage{
			agent.NewEnricher(llm, cfg.Anthropic.Model),
			agent.NewScorer(),
		}, state)

		if state.Scores == nil {
			return eris.New("scoring produced no result")
		}

		out, err := json.MarshalIndent(map[string]any{
			"company_id": state.CompanyID,
			"scores":     state.Scores,
			"tech_stack": state.TechStack(),
			"category":   state.CompanyData["category"],
			"errors":     state.Errors,
			"warnings":   state.Warnings,
		}, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		return data, eris.Wrap(err, "read input file")
	}
	data, err := io.ReadAll(os.Stdin)
	return data, eris.Wrap(err, "read stdin")
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreWithLLM, "llm", false, "use the LLM for enrichment before scoring")
	rootCmd.AddCommand(scoreCmd)
}
