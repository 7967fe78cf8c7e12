package pokemons

import (
	"time"

	"gorm.io/datatypes"
)

// NameSet 保存宝可梦在各语言下的名称，法语名为必填项。
type NameSet struct {
	English  string `json:"english,omitempty"`
	Japanese string `json:"japanese,omitempty"`
	Chinese  string `json:"chinese,omitempty"`
	French   string `json:"french"`
}

// BaseStats 记录六项基础属性值，创建时缺省项统一填充为 50。
type BaseStats struct {
	HP             int `json:"HP"`
	Attack         int `json:"Attack"`
	Defense        int `json:"Defense"`
	SpecialAttack  int `json:"SpecialAttack"`
	SpecialDefense int `json:"SpecialDefense"`
	Speed          int `json:"Speed"`
}

// Pokemon 表示图鉴中的单条宝可梦记录。
// ID 在创建时按当前最大值加一分配，之后不可变更。
type Pokemon struct {
	ID        uint64                        `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      datatypes.JSONType[NameSet]   `gorm:"type:json" json:"name"`
	Types     datatypes.JSONSlice[string]   `gorm:"type:json" json:"type"`
	Base      datatypes.JSONType[BaseStats] `gorm:"type:json" json:"base"`
	Image     string                        `gorm:"size:255" json:"image"`
	CreatedAt time.Time                     `json:"created_at"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

// TableName 指定 Pokemon 模型对应的数据库表名。
func (Pokemon) TableName() string {
	return "pokemons"
}

const defaultBaseStat = 50

// fillBaseDefaults 为创建请求中缺失或为零的属性填充默认值。
func fillBaseDefaults(base BaseStats) BaseStats {
	if base.HP == 0 {
		base.HP = defaultBaseStat
	}
	if base.Attack == 0 {
		base.Attack = defaultBaseStat
	}
	if base.Defense == 0 {
		base.Defense = defaultBaseStat
	}
	if base.SpecialAttack == 0 {
		base.SpecialAttack = defaultBaseStat
	}
	if base.SpecialDefense == 0 {
		base.SpecialDefense = defaultBaseStat
	}
	if base.Speed == 0 {
		base.Speed = defaultBaseStat
	}
	return base
}
