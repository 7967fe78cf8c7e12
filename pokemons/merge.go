package pokemons

import (
	"strings"

	"gorm.io/datatypes"
)

// merge 依据部分更新请求计算待写入的字段集合，未触及的字段不出现在结果中。
// 名称与属性按子字段合并，type 整体替换，image 提供即覆盖。
// 属性值为 0 视同未提供并保留旧值，这是沿用已有调用方依赖的既定行为。
func merge(existing Pokemon, patch updatePokemonRequest) map[string]interface{} {
	updates := make(map[string]interface{})

	if patch.Name != nil {
		updates["name"] = datatypes.NewJSONType(mergeNames(existing.Name.Data(), *patch.Name))
	}

	if patch.Types != nil && len(*patch.Types) > 0 {
		updates["types"] = datatypes.NewJSONSlice(*patch.Types)
	}

	if patch.Base != nil {
		updates["base"] = datatypes.NewJSONType(mergeBase(existing.Base.Data(), *patch.Base))
	}

	if patch.Image != nil {
		if image := strings.TrimSpace(*patch.Image); image != "" {
			updates["image"] = image
		}
	}

	return updates
}

// mergeNames 逐语言合并名称，仅用非空的新值覆盖旧值。
func mergeNames(existing, patch NameSet) NameSet {
	merged := existing
	if strings.TrimSpace(patch.English) != "" {
		merged.English = patch.English
	}
	if strings.TrimSpace(patch.Japanese) != "" {
		merged.Japanese = patch.Japanese
	}
	if strings.TrimSpace(patch.Chinese) != "" {
		merged.Chinese = patch.Chinese
	}
	if strings.TrimSpace(patch.French) != "" {
		merged.French = patch.French
	}
	return merged
}

// mergeBase 逐项合并六项属性，新值为零时保留旧值。
func mergeBase(existing, patch BaseStats) BaseStats {
	merged := existing
	if patch.HP != 0 {
		merged.HP = patch.HP
	}
	if patch.Attack != 0 {
		merged.Attack = patch.Attack
	}
	if patch.Defense != 0 {
		merged.Defense = patch.Defense
	}
	if patch.SpecialAttack != 0 {
		merged.SpecialAttack = patch.SpecialAttack
	}
	if patch.SpecialDefense != 0 {
		merged.SpecialDefense = patch.SpecialDefense
	}
	if patch.Speed != 0 {
		merged.Speed = patch.Speed
	}
	return merged
}
