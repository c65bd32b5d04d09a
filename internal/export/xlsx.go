package export

import (
	"fmt"
	"time"

	"seawatch/internal/model"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Reports"

var columns = []struct {
	label string
	width float64
}{
	{"ID", 38},
	{"Type", 12},
	{"Title", 30},
	{"Description", 50},
	{"Species", 20},
	{"Severity", 10},
	{"Latitude", 12},
	{"Longitude", 12},
	{"Active", 8},
	{"Submitted By", 38},
	{"Submitter Name", 20},
	{"Vessel Name", 20},
	{"Vessel Type", 15},
	{"Image URL", 30},
	{"Created At", 20},
	{"Updated At", 20},
}

// Workbook builds a single-sheet XLSX workbook with one row per report.
func Workbook(reports []model.Report, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 16},
	})
	f.SetCellValue(sheetName, "A1", "Marine Reports")
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Generated: %s", generatedAt.UTC().Format("2006-01-02 15:04:05")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#1F4E78"},
			Pattern: 1,
		},
	})

	const headerRow = 4
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(sheetName, cell, col.label)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
		name, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, name, name, col.width)
	}

	for rowIdx, r := range reports {
		row := headerRow + 1 + rowIdx
		for colIdx, value := range rowValues(&r) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, row)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	f.DeleteSheet("Sheet1")
	return f, nil
}

func rowValues(r *model.Report) []interface{} {
	species, _ := r.Species()
	imageURL := ""
	if r.ImageURL != nil {
		imageURL = *r.ImageURL
	}
	submitterName := ""
	if r.Submitter != nil {
		submitterName = r.Submitter.Name
	}
	return []interface{}{
		r.ID.String(),
		string(r.Type()),
		r.Title,
		r.Description,
		species,
		string(r.Severity),
		r.Location.Latitude(),
		r.Location.Longitude(),
		r.IsActive,
		r.SubmittedBy.String(),
		submitterName,
		r.VesselInfo.VesselName,
		r.VesselInfo.VesselType,
		imageURL,
		r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

// Filename is the download name for an export generated at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("reports_%s.xlsx", t.UTC().Format("20060102_150405"))
}
