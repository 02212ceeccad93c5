package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

var (
	triggerAgentType string
	triggerProductID string
	triggerCRMType   string
	triggerDirection string
	triggerInputFile string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <action-type> <company-id>",
	Short: "Publish an action for the worker",
	Long:  "Publishes one actions.triggered message: run_agent, generate_proposal, or crm_sync.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		companyID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse company id %q", args[1])
		}

		msg := model.ActionMessage{
			ActionType: model.ActionType(args[0]),
			AgentType:  triggerAgentType,
			CompanyID:  companyID,
			ProductID:  triggerProductID,
			CRMType:    triggerCRMType,
			Direction:  triggerDirection,
		}
		switch msg.ActionType {
		case model.ActionRunAgent, model.ActionGenerateProposal, model.ActionCRMSync:
		default:
			return eris.Errorf("unknown action type %q", args[0])
		}

		if triggerInputFile != "" {
			data, err := os.ReadFile(triggerInputFile)
			if err != nil {
				return eris.Wrap(err, "read input data file")
			}
			var input model.ActionInput
			if err := json.Unmarshal(data, &input); err != nil {
				return eris.Wrap(err, "parse input data")
			}
			msg.InputData = &input
		}

		pub, _ := initBroker(false)
		defer pub.Close()

		if err := pub.Publish(cmd.Context(), model.TopicActionsTriggered, args[1], msg); err != nil {
			return err
		}
		zap.L().Info("action published",
			zap.String("action_type", string(msg.ActionType)),
			zap.Int64("company_id", companyID),
		)
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerAgentType, "agent", "", "agent to run for run_agent actions")
	triggerCmd.Flags().StringVar(&triggerProductID, "product", "", "product id for generate_proposal actions")
	triggerCmd.Flags().StringVar(&triggerCRMType, "crm", "salesforce", "crm backend for crm_sync actions")
	triggerCmd.Flags().StringVar(&triggerDirection, "direction", "push", "sync direction for crm_sync actions")
	triggerCmd.Flags().StringVar(&triggerInputFile, "input", "", "JSON file with company data, events, and signals for the action")
	rootCmd.AddCommand(triggerCmd)
}
