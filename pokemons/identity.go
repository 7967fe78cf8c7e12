package pokemons

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// nextID 返回下一个可用的记录 ID：当前最大 ID 加一，空表时为 1。
// 读取与后续插入并非原子操作，并发创建依赖主键唯一约束加重试兜底。
func nextID(ctx context.Context, db *gorm.DB) (uint64, error) {
	var latest Pokemon
	err := db.WithContext(ctx).Order("id DESC").Take(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 1, nil
		}
		return 0, err
	}
	return latest.ID + 1, nil
}
