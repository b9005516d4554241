package storage

import (
	"fmt"
	"strconv"
)

// ParseID 把路径或命令行里的 id 转成 uint。主键从 1 开始，0 也视为无效。
func ParseID(s string) (uint, error) {
	val, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if val == 0 {
		return 0, fmt.Errorf("invalid id %q: must be positive", s)
	}
	return uint(val), nil
}
