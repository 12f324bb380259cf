package siirtoclient

import (
	"fmt"
)

var byteUnits = []string{"kiB", "MiB", "GiB", "TiB", "PiB"}

// 1536 => "1.50 kiB"
func humanizeBytes(num int64) string {
	if num < 1024 {
		return fmt.Sprintf("%d B", num)
	}

	value := float64(num) / 1024
	unit := 0
	for value >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}

	return fmt.Sprintf("%.02f %s", value, byteUnits[unit])
}
