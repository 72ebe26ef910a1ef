package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// runApprovalsList prints the calls waiting for sign-off.
func runApprovalsList(cmd *cobra.Command, configPath, accountID string) error {
	svc, err := loadService(configPath, false)
	if err != nil {
		return err
	}

	pending, err := svc.ListPendingApprovals(cmd.Context(), accountID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return nil
	}
	for _, approval := range pending {
		fmt.Fprintf(out, "%s\n", approval.ID)
		fmt.Fprintf(out, "  account:  %s\n", approval.AccountID)
		fmt.Fprintf(out, "  session:  %s\n", approval.SessionID)
		fmt.Fprintf(out, "  tool:     %s %s\n", approval.ToolCall.Name, approval.ToolCall.Input)
		fmt.Fprintf(out, "  reason:   %s\n", approval.Reason)
		fmt.Fprintf(out, "  created:  %s\n", approval.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// runApprovalsDecide records the decision and streams the continuation
// session's events. An approved call executes before the model resumes; a
// denied call is fed back as an error result.
func runApprovalsDecide(cmd *cobra.Command, configPath, approvalID string, approve bool, decidedBy string) error {
	if decidedBy == "" {
		return fmt.Errorf("--by is required")
	}

	svc, err := loadService(configPath, false)
	if err != nil {
		return err
	}

	cont, events, err := svc.Resume(cmd.Context(), approvalID, approve, decidedBy)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	verdict := "denied"
	if approve {
		verdict = "approved"
	}
	fmt.Fprintf(out, "approval %s %s by %s, continuing as session %s\n",
		approvalID, verdict, decidedBy, cont.ID)

	final := streamEvents(out, events)
	if final.Type == models.EventError {
		return fmt.Errorf("continuation %s failed: %s", cont.ID, final.Error)
	}
	return nil
}
