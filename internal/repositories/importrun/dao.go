package importrun

import (
	"time"

	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
)

const (
	importRunsTable = "import_runs"

	defaultListLimit = 20
	maxListLimit     = 200
)

var importRunStruct = database.NewStruct(new(models.ImportRun))

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
