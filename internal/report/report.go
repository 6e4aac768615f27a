// Package report renders a learner's lesson progress as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-player/internal/lesson"
)

// SheetName is the name of the only sheet in the workbook.
const SheetName = "Progress"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// stepHeaderRow is the row holding the step table headers.
const stepHeaderRow = 8

var stepColumns = []struct {
	title string
	width float64
}{
	{"Order", 8},
	{"Title", 40},
	{"Type", 12},
	{"Status", 14},
	{"Progress", 10},
	{"Completed at", 24},
}

// Filename returns the download name for a lesson's report.
func Filename(snap lesson.Snapshot) string {
	return fmt.Sprintf("lesson-%d-progress.xlsx", snap.Lesson.ID)
}

// WriteXLSX writes snap as an xlsx workbook to w.
func WriteXLSX(w io.Writer, snap lesson.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	summary := [][2]any{
		{"Lesson", snap.Lesson.Title},
		{"Lesson ID", snap.Lesson.ID},
		{"Status", snap.Progress.Status.String()},
		{"Progress", round1(snap.Progress.Percent)},
		{"Completed steps", fmt.Sprintf("%d / %d", snap.Progress.CompletedSteps, snap.Progress.TotalSteps)},
		{"Next lesson", nextLesson(snap.NextLessonID)},
	}
	for i, kv := range summary {
		row := i + 1
		if err := setRow(f, row, kv[0], kv[1]); err != nil {
			return err
		}
		if err := styleRow(f, row, 1, bold); err != nil {
			return err
		}
	}

	headers := make([]any, len(stepColumns))
	for i, col := range stepColumns {
		headers[i] = col.title
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, col.width); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}
	if err := setRow(f, stepHeaderRow, headers...); err != nil {
		return err
	}
	if err := styleRow(f, stepHeaderRow, len(stepColumns), bold); err != nil {
		return err
	}

	for i, step := range lesson.OrderedSteps(snap.Steps) {
		if err := setRow(f, stepHeaderRow+1+i,
			step.Order,
			step.Title,
			step.Type.String(),
			step.Status.String(),
			round1(step.Progress),
			completedAt(step.CompletedAt),
		); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}

func styleRow(f *excelize.File, row, cols, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(SheetName, first, last, style)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func nextLesson(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}

func completedAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
