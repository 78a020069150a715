package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/domain/entity"
)

func TestAuditWorkbook_Write(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ended := created.Add(2 * time.Hour)
	actor := "u-alice"

	rec := &AuditRecord{
		Instance: &entity.WorkflowInstance{
			ID:          7,
			DocumentID:  42,
			Title:       "Lease renewal",
			InitiatedBy: "u-owner",
			Status:      entity.StatusApproved,
			Priority:    entity.PriorityNormal,
			CreatedAt:   created,
			EndedAt:     &ended,
		},
		TemplateName: "Contract review",
		Tasks: []*entity.WorkflowTask{
			{ID: 11, StepOrder: 1, StepName: "Manager", StepType: entity.StepTypeApproval,
				AssignedTo: "u-alice", Status: entity.TaskStatusApproved, DecidedBy: "u-alice", CompletedAt: &ended},
		},
		History: []*entity.WorkflowHistory{
			{Action: entity.ActionWorkflowCreated, ToStatus: entity.StatusPending, ActionDate: created},
			{Action: entity.ActionStepApproved, PerformedBy: &actor, FromStatus: entity.StatusPending,
				ToStatus: entity.StatusApproved, ActionDate: ended},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewAuditWorkbook(zap.NewNop()).Write(&buf, rec))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetSummary, sheetTasks, sheetHistory}, f.GetSheetList())

	title, err := f.GetCellValue(sheetSummary, "B5")
	require.NoError(t, err)
	assert.Equal(t, "Lease renewal", title)

	status, err := f.GetCellValue(sheetSummary, "B7")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, status)

	history, err := f.GetRows(sheetHistory)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "system", history[1][2])
	assert.Equal(t, "u-alice", history[2][2])
	assert.Equal(t, "2026-03-02 11:30:00", history[2][0])

	tasks, err := f.GetRows(sheetTasks)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Manager", tasks[1][2])
}

func TestAuditWorkbook_RequiresInstance(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewAuditWorkbook(zap.NewNop()).Write(&buf, &AuditRecord{}))
	assert.Zero(t, buf.Len())
}
