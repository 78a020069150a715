// Package export renders workflow audit trails as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/domain/entity"
)

// ContentType is the MIME type of the generated workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	sheetSummary = "Summary"
	sheetTasks   = "Tasks"
	sheetHistory = "History"
)

const dateLayout = "2006-01-02 15:04:05"

// AuditRecord is everything known about one instance at export time
type AuditRecord struct {
	Instance     *entity.WorkflowInstance
	TemplateName string
	Tasks        []*entity.WorkflowTask
	History      []*entity.WorkflowHistory
}

// AuditWorkbook writes an instance's tasks and history as an XLSX workbook
type AuditWorkbook struct {
	logger *zap.Logger
}

// NewAuditWorkbook creates a new workbook writer
func NewAuditWorkbook(logger *zap.Logger) *AuditWorkbook {
	return &AuditWorkbook{logger: logger}
}

// Write renders rec to w. Times are written in UTC.
func (a *AuditWorkbook) Write(w io.Writer, rec *AuditRecord) error {
	if rec == nil || rec.Instance == nil {
		return fmt.Errorf("audit record has no instance")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{sheetTasks, sheetHistory} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := a.fillSummary(f, rec, header); err != nil {
		return err
	}
	if err := a.fillTasks(f, rec.Tasks, header); err != nil {
		return err
	}
	if err := a.fillHistory(f, rec.History, header); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	a.logger.Info("Audit workbook written",
		zap.Int64("instance_id", rec.Instance.ID),
		zap.Int("tasks", len(rec.Tasks)),
		zap.Int("history", len(rec.History)))
	return nil
}

func (a *AuditWorkbook) fillSummary(f *excelize.File, rec *AuditRecord, header int) error {
	inst := rec.Instance
	step := ""
	if inst.CurrentStepOrder != nil {
		step = fmt.Sprintf("%d", *inst.CurrentStepOrder)
	}

	rows := [][]interface{}{
		{"Field", "Value"},
		{"Instance", inst.ID},
		{"Template", rec.TemplateName},
		{"Document", inst.DocumentID},
		{"Title", inst.Title},
		{"Initiated by", inst.InitiatedBy},
		{"Status", inst.Status},
		{"Current step", step},
		{"Priority", inst.Priority},
		{"Comments", inst.Comments},
		{"Created", formatTime(&inst.CreatedAt)},
		{"Ended", formatTime(inst.EndedAt)},
	}
	return writeRows(f, sheetSummary, rows, header, 18, 40)
}

func (a *AuditWorkbook) fillTasks(f *excelize.File, tasks []*entity.WorkflowTask, header int) error {
	rows := [][]interface{}{
		{"Task", "Step", "Name", "Type", "Assignee", "Status", "Decided by", "Comments", "Due", "Completed"},
	}
	for _, t := range tasks {
		rows = append(rows, []interface{}{
			t.ID, t.StepOrder, t.StepName, t.StepType, t.AssignedTo, t.Status,
			t.DecidedBy, t.Comments, formatTime(t.DueAt), formatTime(t.CompletedAt),
		})
	}
	return writeRows(f, sheetTasks, rows, header, 16, 16)
}

func (a *AuditWorkbook) fillHistory(f *excelize.File, entries []*entity.WorkflowHistory, header int) error {
	rows := [][]interface{}{
		{"When", "Action", "By", "From", "To", "Details"},
	}
	for _, h := range entries {
		rows = append(rows, []interface{}{
			formatTime(&h.ActionDate), h.Action, h.Actor(), h.FromStatus, h.ToStatus, h.Details,
		})
	}
	return writeRows(f, sheetHistory, rows, header, 20, 48)
}

// writeRows fills rows from A1 and bolds the first one.
// The last column gets lastWidth, the others width.
func writeRows(f *excelize.File, sheet string, rows [][]interface{}, header int, width, lastWidth float64) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}

	if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	cols := len(rows[0])
	last, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	if cols > 1 {
		prev, err := excelize.ColumnNumberToName(cols - 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", prev, width); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, last, last, lastWidth)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}
