package pokemons

import (
	"strconv"
	"strings"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// Pagination 是列表响应中携带的分页导航信息。
type Pagination struct {
	Total       int64 `json:"total"`
	Limit       int   `json:"limit"`
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// parsePageParam 解析页码或条数参数，非法输入回退到默认值。
func parsePageParam(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

// paginate 依据页码、条数和总量计算分页信息。
// 页码超过总页数时不做钳制，调用方自然得到空数据集。
func paginate(page, limit int, total int64) Pagination {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	return Pagination{
		Total:       total,
		Limit:       limit,
		CurrentPage: page,
		TotalPages:  totalPages,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}

// skipFor 计算当前页对应的偏移量。
func skipFor(page, limit int) int {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	return (page - 1) * limit
}
