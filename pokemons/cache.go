package pokemons

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"pokedex_back/cache"
)

const defaultCacheTTL = 5 * time.Minute

// cacheTTLFromEnv 读取缓存过期时间（秒），非法或缺省时使用默认值。
func cacheTTLFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("POKEMON_CACHE_TTL"))
	if raw == "" {
		return defaultCacheTTL
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return defaultCacheTTL
	}
	return time.Duration(seconds) * time.Second
}

// cacheKeyByID 生成按 ID 查询的缓存键。
func cacheKeyByID(id uint64) string {
	return fmt.Sprintf("pokemons:id:%d", id)
}

// cacheKeyByName 生成按名称查询的缓存键。
func cacheKeyByName(name string) string {
	return "pokemons:name:" + name
}

// cachedPokemon 尝试从缓存读取记录，Redis 不可用或未命中时返回 false。
func (m *Module) cachedPokemon(ctx context.Context, key string) (*Pokemon, bool) {
	if !cache.Enabled() {
		return nil, false
	}

	var pokemon Pokemon
	if err := cache.GetJSON(ctx, key, &pokemon); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Printf("pokemons: read cache %s: %v", key, err)
		}
		return nil, false
	}
	return &pokemon, true
}

// rememberPokemon 将记录写入缓存，同时覆盖 ID 与名称两类键。
func (m *Module) rememberPokemon(ctx context.Context, pokemon *Pokemon) {
	if !cache.Enabled() || pokemon == nil {
		return
	}

	for _, key := range cacheKeysFor(*pokemon) {
		if err := cache.SetJSON(ctx, key, pokemon, m.cacheTTL); err != nil {
			log.Printf("pokemons: write cache %s: %v", key, err)
		}
	}
}

// forgetPokemon 在记录变更或删除后清除相关缓存键。
func (m *Module) forgetPokemon(ctx context.Context, pokemon Pokemon) {
	if !cache.Enabled() {
		return
	}

	if err := cache.Delete(ctx, cacheKeysFor(pokemon)...); err != nil {
		log.Printf("pokemons: invalidate cache for %d: %v", pokemon.ID, err)
	}
}

// cacheKeysFor 枚举一条记录可能命中的全部缓存键。
func cacheKeysFor(pokemon Pokemon) []string {
	keys := []string{cacheKeyByID(pokemon.ID)}
	names := pokemon.Name.Data()
	if names.English != "" {
		keys = append(keys, cacheKeyByName(names.English))
	}
	if names.French != "" {
		keys = append(keys, cacheKeyByName(names.French))
	}
	return keys
}
