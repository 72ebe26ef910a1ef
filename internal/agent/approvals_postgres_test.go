package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

func approvalColumns() []string {
	return []string{"id", "session_id", "account_id", "tool_call", "reason", "status", "decided_by", "created_at", "decided_at"}
}

func TestPostgresApprovalCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewPostgresApprovalStore(db)
	approval := NewPendingApproval(
		&models.Session{ID: "sess-1", AccountID: "acct-1"},
		models.ToolCall{ID: "call-1", Name: "pause_membership", Input: json.RawMessage(`{"member_id":"m-1"}`)},
		"assisted mode: tool reports no confidence",
	)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_approvals")).
		WithArgs(approval.ID, "sess-1", "acct-1", sqlmock.AnyArg(),
			approval.Reason, "pending", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Create(context.Background(), approval); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresApprovalDecide(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewPostgresApprovalStore(db)
	call, _ := json.Marshal(models.ToolCall{ID: "call-1", Name: "pause_membership"})

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs("appr-1", "approved", "owner@gym.test", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM agent_approvals WHERE id = $1")).
		WithArgs("appr-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("appr-1", "sess-1", "acct-1", call, "needs sign-off",
				"approved", "owner@gym.test", time.Now(), time.Now()))

	approval, err := store.Decide(context.Background(), "appr-1", true, "owner@gym.test")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if approval.Status != ApprovalApproved || approval.DecidedBy != "owner@gym.test" {
		t.Errorf("approval = %+v", approval)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresApprovalDecideAlreadyDecided(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewPostgresApprovalStore(db)
	call, _ := json.Marshal(models.ToolCall{ID: "call-1", Name: "pause_membership"})

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs("appr-1", "denied", "rival", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM agent_approvals WHERE id = $1")).
		WithArgs("appr-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("appr-1", "sess-1", "acct-1", call, "needs sign-off",
				"approved", "owner@gym.test", time.Now(), time.Now()))

	if _, err := store.Decide(context.Background(), "appr-1", false, "rival"); err == nil {
		t.Error("second decision should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresApprovalListPendingScopedToAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store := NewPostgresApprovalStore(db)
	call, _ := json.Marshal(models.ToolCall{ID: "call-1", Name: "apply_credit"})

	mock.ExpectQuery(regexp.QuoteMeta("AND account_id = $1")).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).
			AddRow("appr-1", "sess-1", "acct-1", call, "low confidence",
				"pending", "", time.Now(), nil))

	pending, err := store.ListPending(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ToolCall.Name != "apply_credit" {
		t.Errorf("pending = %+v", pending)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
