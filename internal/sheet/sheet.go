// Package sheet reads the Excel indicator definition and normalizes its
// rows. The sheet is human-maintained: merged cells leave blanks that
// inherit the value above, codes carry zero-width characters, and rows
// repeat. Normalization turns each raw row into one of three intents:
// a category marker, a duplicate, or an indicator definition.
package sheet

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/width"
)

// ErrSourceLoad marks a whole-table load failure. It is the only error
// class that aborts a pipeline run.
var ErrSourceLoad = eris.New("sheet: source load failed")

// Column positions in the definition sheet.
const (
	colBoard   = 0 // 板块
	colName    = 1 // 经济指标
	colEnglish = 2 // Indicator
	colCode    = 3 // FRED 代码
)

// Row is one normalized definition row, after column inheritance.
type Row struct {
	Index       int    // position within the table, 0-based
	Board       string // board (level-1 category) name
	Name        string // indicator display name
	EnglishName string // english/alternate name
	RawCode     string // provider-code cell as inherited, not yet cleaned
}

// Kind classifies a normalized row.
type Kind int

const (
	// KindIndicator is a row defining a distinct tracked series.
	KindIndicator Kind = iota
	// KindCategoryMarker is a row with no series attached: the code cell
	// is blank or repeats the display name.
	KindCategoryMarker
	// KindDuplicate repeats the immediately preceding row's cleaned code.
	KindDuplicate
)

// Classified is a row together with its classification and cleaned code.
type Classified struct {
	Kind Kind
	Row  Row
	Code string // cleaned provider code ("" for blank-cell markers)
}

// ReadDefinition loads the definition sheet and returns its normalized
// rows in source order. The board and code columns inherit the nearest
// preceding non-blank value; rows missing both board and indicator name
// are dropped. Any load failure wraps ErrSourceLoad.
func ReadDefinition(path, sheetName string) ([]Row, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(ErrSourceLoad, "definition file %s: %v", path, err)
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(ErrSourceLoad, "open %s: %v", path, err)
	}

	sh, err := pickSheet(f, sheetName)
	if err != nil {
		return nil, err
	}

	var rows []Row
	var lastBoard, lastCode string

	for i, raw := range sh.Rows {
		if i == 0 {
			continue // header
		}

		board := strings.TrimSpace(cellAt(raw, colBoard))
		name := strings.TrimSpace(cellAt(raw, colName))
		english := strings.TrimSpace(cellAt(raw, colEnglish))
		code := strings.TrimSpace(cellAt(raw, colCode))

		// Merged-cell semantics: blank board and code cells inherit the
		// previous non-blank value in their column.
		if board == "" {
			board = lastBoard
		} else {
			lastBoard = board
		}
		if code == "" {
			code = lastCode
		} else {
			lastCode = code
		}

		if board == "" && name == "" {
			continue
		}

		rows = append(rows, Row{
			Index:       len(rows),
			Board:       board,
			Name:        name,
			EnglishName: english,
			RawCode:     code,
		})
	}

	return rows, nil
}

// CleanCode normalizes a provider-code cell: surrounding whitespace is
// trimmed, zero-width code points are stripped, and full-width forms
// from the CJK-authored sheet are folded to their narrow equivalents.
// Codes compare equal after cleaning, not before.
func CleanCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("​", "", "‌", "", "‍", "").Replace(s)
	return width.Narrow.String(s)
}

// Classify determines a row's intent. prevCode is the cleaned code of
// the immediately preceding row ("" for the first row, which can never
// be a duplicate).
func Classify(row Row, prevCode string) Classified {
	code := CleanCode(row.RawCode)

	if code == "" || code == strings.TrimSpace(row.Name) {
		return Classified{Kind: KindCategoryMarker, Row: row, Code: code}
	}
	if prevCode != "" && code == prevCode {
		return Classified{Kind: KindDuplicate, Row: row, Code: code}
	}
	return Classified{Kind: KindIndicator, Row: row, Code: code}
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		if sh, ok := f.Sheet[name]; ok {
			return sh, nil
		}
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Wrap(ErrSourceLoad, "workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func cellAt(row *xlsx.Row, idx int) string {
	if row == nil || idx >= len(row.Cells) {
		return ""
	}
	return row.Cells[idx].String()
}
