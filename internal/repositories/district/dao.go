package district

import (
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
)

const (
	districtsTable = "districts"
)

var districtStruct = database.NewStruct(new(models.District))
