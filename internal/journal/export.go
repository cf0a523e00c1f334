package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportExcel renders the journal report for a period into an xlsx workbook
// and returns the serialized file.
func (j *Journal) ExportExcel(ctx context.Context, from, to time.Time) ([]byte, error) {
	report, err := j.BuildReport(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("error building report: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	inboundSheet := "Inbound"
	index, err := f.NewSheet(inboundSheet)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(inboundSheet, "A1", fmt.Sprintf("Период: %s - %s",
		from.Format("02.01.2006"), to.Format("02.01.2006")))
	_ = f.MergeCell(inboundSheet, "A1", "E1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	writeRow(f, inboundSheet, 2, "Message ID", "Sender", "Kind", "Outcome", "Received At")
	cell, _ := excelize.CoordinatesToCellName(5, 2)
	_ = f.SetCellStyle(inboundSheet, "A2", cell, headerStyle)

	for i, rec := range report.Inbound {
		writeRow(f, inboundSheet, 3+i,
			rec.MessageID, rec.Sender, rec.Kind, rec.Outcome,
			rec.ReceivedAt.Format("2006-01-02 15:04:05"))
	}
	_ = f.SetColWidth(inboundSheet, "A", "A", 40)
	_ = f.SetColWidth(inboundSheet, "B", "E", 20)

	statusSheet := "Statuses"
	if _, err := f.NewSheet(statusSheet); err != nil {
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}

	writeRow(f, statusSheet, 1, "Message ID", "Recipient", "Status", "Occurred At")
	cell, _ = excelize.CoordinatesToCellName(4, 1)
	_ = f.SetCellStyle(statusSheet, "A1", cell, headerStyle)

	for i, rec := range report.Statuses {
		writeRow(f, statusSheet, 2+i,
			rec.MessageID, rec.RecipientID, rec.Status,
			rec.OccurredAt.Format("2006-01-02 15:04:05"))
	}
	_ = f.SetColWidth(statusSheet, "A", "A", 40)
	_ = f.SetColWidth(statusSheet, "B", "D", 20)

	_ = f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("error saving file: %v", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
