package pipeline

import "github.com/fomcboard/indicator-cli/internal/model"

// pendingSubcategories tracks, per board name, the most recently
// declared sub-grouping while walking the table. It is orchestration
// state owned by the pipeline run and passed explicitly; a marker
// observed at row N affects resolution for following rows until
// superseded. Not persisted.
type pendingSubcategories map[string]model.Category

// resolveCategory returns the category an indicator row attaches to.
// The default is the board category; the board's pending subcategory
// wins only when the indicator's display name is a member of that
// subcategory's closed allow-list. Names outside every list always fall
// back to the board.
func resolveCategory(boardName, indicatorName string, boardID int64, pending pendingSubcategories) int64 {
	sub, ok := pending[boardName]
	if !ok {
		return boardID
	}
	if subgroupContains(sub.Name, indicatorName) {
		return sub.ID
	}
	return boardID
}
