package glove

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameValid(t *testing.T) {
	var f Frame
	assert.False(t, f.Valid(), "all-zero frame is noise")

	f[Flex1] = 12.5
	assert.True(t, f.Valid())

	f[GyroZ] = 1000
	assert.False(t, f.Valid(), "upper bound is exclusive")

	f[GyroZ] = -999.99
	assert.True(t, f.Valid())

	f[BioAmp] = math.NaN()
	assert.False(t, f.Valid())
}

func TestExportColumns(t *testing.T) {
	cols := ExportColumns()
	require.Len(t, cols, NumChannels+1)
	assert.Equal(t, "Timestamp", cols[0])
	assert.Equal(t, "Flex1", cols[1])
	assert.Equal(t, "FSR5", cols[10])
	assert.Equal(t, "IMU_X", cols[11])
	assert.Equal(t, "IMU_Yaw", cols[16])
	assert.Equal(t, "BioAmp", cols[17])
}
