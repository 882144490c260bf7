// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package glove

import "math"

// NumChannels is the number of fields in one wire record.
const NumChannels = 17

// MaxAmplitude bounds every sane reading: values must lie in (-MaxAmplitude, MaxAmplitude).
const MaxAmplitude = 1000.0

// Channel indices in wire order.
const (
	BioAmp = iota
	Flex1
	Flex2
	Flex3
	Flex4
	Flex5
	FSR1
	FSR2
	FSR3
	FSR4
	FSR5
	AccelX
	AccelY
	AccelZ
	GyroX // roll rate
	GyroY // pitch rate
	GyroZ // yaw rate
)

// ChannelNames holds the export column name for every channel, in wire order.
var ChannelNames = [NumChannels]string{
	"BioAmp",
	"Flex1", "Flex2", "Flex3", "Flex4", "Flex5",
	"FSR1", "FSR2", "FSR3", "FSR4", "FSR5",
	"IMU_X", "IMU_Y", "IMU_Z",
	"IMU_Roll", "IMU_Pitch", "IMU_Yaw",
}

// ExportOrder lists channel indices in CSV column order (after the Timestamp column).
var ExportOrder = [NumChannels]int{
	Flex1, Flex2, Flex3, Flex4, Flex5,
	FSR1, FSR2, FSR3, FSR4, FSR5,
	AccelX, AccelY, AccelZ, GyroX, GyroY, GyroZ,
	BioAmp,
}

// Channel groups as the live view tracks them.
var (
	FlexChannels   = []int{Flex1, Flex2, Flex3, Flex4, Flex5}
	FSRChannels    = []int{FSR1, FSR2, FSR3, FSR4, FSR5}
	IMUBioChannels = []int{BioAmp, AccelX, AccelY, AccelZ, GyroX, GyroY, GyroZ}
)

// ExportColumns returns the CSV header: Timestamp followed by the channels in ExportOrder.
func ExportColumns() []string {
	cols := make([]string, 0, NumChannels+1)
	cols = append(cols, "Timestamp")
	for _, ch := range ExportOrder {
		cols = append(cols, ChannelNames[ch])
	}
	return cols
}

// Frame is one raw multi-channel reading in wire order.
type Frame [NumChannels]float64

// Valid reports whether the frame carries real sensor data: at least one
// non-zero value and every value inside the sane amplitude range.
func (f Frame) Valid() bool {
	nonZero := false
	for _, v := range f {
		if math.IsNaN(v) || v <= -MaxAmplitude || v >= MaxAmplitude {
			return false
		}
		if v != 0 {
			nonZero = true
		}
	}
	return nonZero
}

// Sample is a validated frame at a position in the stream.
type Sample struct {
	Index  int64 `json:"index"`
	Values Frame `json:"values"`
}
