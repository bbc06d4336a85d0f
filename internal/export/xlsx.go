// Package export writes session dossiers and their research jobs to XLSX.
package export

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

const (
	ProspectsSheet = "Prospects"
	JobsSheet      = "Jobs"
)

var (
	prospectHeader = []string{"Prospect ID", "Name", "City", "State", "Lat", "Lng", "Score", "Angles", "Status", "Summary"}
	jobHeader      = []string{"Job ID", "Prospect ID", "Type", "Status", "Error", "Created"}
)

// Reader is the slice of the store the exporter reads.
type Reader interface {
	GetSession(ctx context.Context, id string) (*model.DiscoverySession, error)
	GetDossiers(ctx context.Context, sessionID string) ([]model.ProspectDossier, error)
	ListJobs(ctx context.Context, sessionID string) ([]model.ResearchJob, error)
}

var _ Reader = (store.Store)(nil)

// Session builds the workbook for one session.
func Session(ctx context.Context, r Reader, sessionID string) (*xlsx.File, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, eris.Wrap(err, "export: load session")
	}
	dossiers, err := r.GetDossiers(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "export: load dossiers")
	}
	jobs, err := r.ListJobs(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "export: load jobs")
	}
	return Workbook(dossiers, jobs)
}

// Workbook renders dossiers and jobs into a two-sheet workbook.
func Workbook(dossiers []model.ProspectDossier, jobs []model.ResearchJob) (*xlsx.File, error) {
	f := xlsx.NewFile()

	ps, err := f.AddSheet(ProspectsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add prospects sheet")
	}
	addRow(ps, prospectHeader)
	for _, d := range dossiers {
		addRow(ps, []string{
			d.ProspectKey,
			d.Name,
			d.City,
			d.State,
			formatCoord(d.Lat),
			formatCoord(d.Lng),
			strconv.FormatFloat(d.Dossier.Score, 'f', -1, 64),
			strings.Join(d.Dossier.Angles, "; "),
			string(d.Status),
			d.Dossier.Summary,
		})
	}

	js, err := f.AddSheet(JobsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add jobs sheet")
	}
	addRow(js, jobHeader)
	for _, j := range jobs {
		addRow(js, []string{
			j.ID,
			j.ProspectKey,
			j.JobType,
			string(j.Status),
			j.Error,
			j.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return f, nil
}

// WriteSession saves the workbook for sessionID to path.
func WriteSession(ctx context.Context, r Reader, sessionID, path string) error {
	f, err := Session(ctx, r, sessionID)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open file")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", name)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 5, 64)
}
