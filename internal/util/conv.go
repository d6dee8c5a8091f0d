package util

import (
	"math"
	"strconv"
)

// ParseIntDefault 解析失败或越界时返回默认值
func ParseIntDefault(s string, def, min, max int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}

// Round 保留 places 位小数
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
