package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/teranos/stata-bridge/internal/apperrors"
)

// DatasetView is the column-major snapshot spec.md §4.5 describes for
// GET /view_data.
type DatasetView struct {
	Columns       []string   `json:"columns"`
	Rows          [][]string `json:"rows"` // column-major: Rows[c][r]
	DisplayedRows int        `json:"displayed_rows"`
	TotalRows     int        `json:"total_rows"`
	MaxRows       int        `json:"max_rows"`
}

// ViewData exports the current in-memory dataset to a temp CSV via a
// generated do-file and reshapes it into column-major JSON, pushing
// ifCondition down to the Engine's own `if` clause rather than filtering
// client-side (spec.md §4.5 "Dataset view"). It is routed through the
// worker's single-consumer queue (runViewData) so it cannot race a
// concurrently in-flight run.
func (w *Worker) ViewData(ctx context.Context, ifCondition string, maxRows int) (DatasetView, error) {
	res, err := w.Submit(ctx, Request{Kind: RequestViewData, IfCondition: ifCondition, MaxRows: maxRows})
	if err != nil {
		return DatasetView{}, err
	}
	if res.View == nil {
		return DatasetView{}, apperrors.Internal(fmt.Errorf("view_data produced no view"))
	}
	return *res.View, nil
}

func buildViewDataScript(ifCondition string, maxRows int, csvPath, totalPath string) string {
	ifClause := ""
	if ifCondition != "" {
		ifClause = " if " + ifCondition
	}
	return fmt.Sprintf(
		"quietly count%s\n"+
			"file open totalf using %s, write replace\n"+
			"file write totalf (r(N))\n"+
			"file close totalf\n"+
			"preserve\n"+
			"quietly keep%s\n"+
			"quietly if _N > %d {\n"+
			"    quietly keep in 1/%d\n"+
			"}\n"+
			"export delimited using %s, replace\n"+
			"restore\n",
		ifClause, shellquote.Join(totalPath), ifClause, maxRows, maxRows, shellquote.Join(csvPath))
}

func parseViewDataOutput(csvPath, totalPath string, maxRows int) (DatasetView, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return DatasetView{}, apperrors.Internal(fmt.Errorf("open view_data csv: %w", err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return DatasetView{}, apperrors.Internal(fmt.Errorf("parse view_data csv: %w", err))
	}
	if len(records) == 0 {
		return DatasetView{MaxRows: maxRows}, nil
	}

	header := records[0]
	body := records[1:]

	view := DatasetView{
		Columns:       header,
		Rows:          make([][]string, len(header)),
		DisplayedRows: len(body),
		MaxRows:       maxRows,
	}
	for c := range header {
		col := make([]string, len(body))
		for r, row := range body {
			if c < len(row) {
				col[r] = row[c]
			}
		}
		view.Rows[c] = col
	}

	if raw, err := os.ReadFile(totalPath); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(string(raw))); convErr == nil {
			view.TotalRows = n
		}
	}
	if view.TotalRows == 0 {
		view.TotalRows = view.DisplayedRows
	}

	return view, nil
}
