package demand

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transitworks/assign_core/internal/models"
)

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.csv")
	content := `person_trip_id,origin_zone,dest_zone,direction,preferred_min,user_class,purpose,value_of_time,trace
1,Z1,Z2,inbound,480,all,work,15.5,false
2,Z2,Z1,outbound,1020,student,school,8,1
notanumber,Z1,Z2,inbound,480,all,work,15,false
-4,Z1,Z2,inbound,480,all,work,15,false
3,Z1,Z2,sideways,480,all,work,15,false
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	trips, err := LoadCSV(path)
	assert.NoError(t, err)

	// the bad id, negative id and bad direction rows are skipped with
	// a warning
	if !assert.Len(t, trips, 2) {
		return
	}

	assert.Equal(t, int64(1), trips[0].ID)
	assert.Equal(t, "Z1", trips[0].OriginZone)
	assert.Equal(t, models.DirInbound, trips[0].Direction)
	assert.Equal(t, 480.0, trips[0].PreferredMin)
	assert.Equal(t, "all", trips[0].UserClass)
	assert.Equal(t, 15.5, trips[0].ValueOfTime)
	assert.False(t, trips[0].Trace)

	assert.Equal(t, models.DirOutbound, trips[1].Direction)
	assert.Equal(t, "student", trips[1].UserClass)
	assert.True(t, trips[1].Trace)
}

func TestLoadCSVShuffledColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.csv")
	content := `direction,person_trip_id,preferred_min,dest_zone,origin_zone
inbound,9,100,Z2,Z1
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	trips, err := LoadCSV(path)
	assert.NoError(t, err)
	if assert.Len(t, trips, 1) {
		assert.Equal(t, int64(9), trips[0].ID)
		assert.Equal(t, "Z1", trips[0].OriginZone)
		assert.Equal(t, 100.0, trips[0].PreferredMin)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
