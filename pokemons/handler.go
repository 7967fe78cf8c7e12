package pokemons

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	filestore "pokedex_back/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Module 聚合了宝可梦模块依赖的数据库与素材存储。
type Module struct {
	db       *gorm.DB
	sprites  *filestore.SpriteStore
	cacheTTL time.Duration
}

const maxCreateAttempts = 3

// RegisterRoutes 初始化宝可梦模块并注册所有相关路由。
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Pokemon{}); err != nil {
		return nil, err
	}

	sprites, err := filestore.NewSpriteStoreFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{db: db, sprites: sprites, cacheTTL: cacheTTLFromEnv()}

	group := router.Group("/pokemons")
	group.GET("", module.handleListPokemons)
	group.GET("/:id", module.handleGetPokemon)
	group.GET("/name/:name", module.handleGetPokemonByName)
	group.POST("", module.handleCreatePokemon)
	group.PUT("/:id", module.handleUpdatePokemon)
	group.DELETE("/:id", module.handleDeletePokemon)

	router.GET("/healthz", module.handleHealthz)

	return module, nil
}

// SpriteDir 返回素材文件所在目录，供静态文件路由挂载。
func (m *Module) SpriteDir() string {
	if m == nil || m.sprites == nil {
		return ""
	}
	return m.sprites.Dir()
}

// Close 释放模块持有的数据库连接。
func (m *Module) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type createPokemonRequest struct {
	Name  NameSet   `json:"name"`
	Types []string  `json:"type"`
	Base  BaseStats `json:"base"`
	Image string    `json:"image"`
}

type updatePokemonRequest struct {
	Name  *NameSet   `json:"name"`
	Types *[]string  `json:"type"`
	Base  *BaseStats `json:"base"`
	Image *string    `json:"image"`
}

// handleListPokemons godoc
// @Summary 分页列出宝可梦
// @Description 按 ID 升序返回宝可梦列表及分页信息
// @Tags Pokemons
// @Produce json
// @Param page query int false "页码，默认 1"
// @Param limit query int false "每页条数，默认 20"
// @Success 200 {object} map[string]interface{} "数据与分页信息"
// @Failure 500 {object} map[string]string "服务器错误"
// handleListPokemons 返回分页的宝可梦列表。
func (m *Module) handleListPokemons(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	ctx := c.Request.Context()

	page := parsePageParam(c.Query("page"), defaultPage)
	limit := parsePageParam(c.Query("limit"), defaultLimit)

	var total int64
	if err := m.db.WithContext(ctx).Model(&Pokemon{}).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pokemons"})
		return
	}

	pokemons := make([]Pokemon, 0, limit)
	if err := m.db.WithContext(ctx).
		Order("id ASC").
		Offset(skipFor(page, limit)).
		Limit(limit).
		Find(&pokemons).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pokemons"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       pokemons,
		"pagination": paginate(page, limit, total),
	})
}

// handleGetPokemon godoc
// @Summary 按 ID 获取宝可梦
// @Tags Pokemons
// @Produce json
// @Param id path int true "宝可梦 ID"
// @Success 200 {object} Pokemon
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleGetPokemon 按数字 ID 精确查找单条记录，非数字参数等同未命中。
func (m *Module) handleGetPokemon(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	id, err := parsePokemonID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		return
	}

	ctx := c.Request.Context()

	if cached, ok := m.cachedPokemon(ctx, cacheKeyByID(id)); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var pokemon Pokemon
	if err := m.db.WithContext(ctx).Take(&pokemon, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pokemon"})
		}
		return
	}

	m.rememberPokemon(ctx, &pokemon)

	c.JSON(http.StatusOK, pokemon)
}

// handleGetPokemonByName godoc
// @Summary 按名称获取宝可梦
// @Description 名称需与英文名或法文名完全一致，不做模糊匹配
// @Tags Pokemons
// @Produce json
// @Param name path string true "宝可梦名称"
// @Success 200 {object} Pokemon
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleGetPokemonByName 按英文名或法文名精确匹配单条记录。
func (m *Module) handleGetPokemonByName(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	name := c.Param("name")
	if strings.TrimSpace(name) == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		return
	}

	ctx := c.Request.Context()

	if cached, ok := m.cachedPokemon(ctx, cacheKeyByName(name)); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var pokemon Pokemon
	err := m.db.WithContext(ctx).
		Where(datatypes.JSONQuery("name").Equals(name, "english")).
		Or(datatypes.JSONQuery("name").Equals(name, "french")).
		Take(&pokemon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pokemon"})
		}
		return
	}

	m.rememberPokemon(ctx, &pokemon)

	c.JSON(http.StatusOK, pokemon)
}

// handleCreatePokemon godoc
// @Summary 创建宝可梦
// @Description 创建新记录并尽力解析可选的图片素材
// @Tags Pokemons
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param request body createPokemonRequest true "宝可梦信息"
// @Param imageFile formData file false "图片文件"
// @Success 201 {object} map[string]interface{} "创建成功的记录"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 500 {object} map[string]string "服务器错误"
// handleCreatePokemon 分配 ID、填充默认属性并落库，图片获取失败不影响创建。
func (m *Module) handleCreatePokemon(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	req, imageFile, err := bindCreatePokemonRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.Name.French) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "french name is required"})
		return
	}
	if len(req.Types) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}

	ctx := c.Request.Context()
	base := fillBaseDefaults(req.Base)

	var pokemon Pokemon
	for attempt := 0; ; attempt++ {
		id, err := nextID(ctx, m.db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pokemon"})
			return
		}

		pokemon = Pokemon{
			ID:    id,
			Name:  datatypes.NewJSONType(req.Name),
			Types: datatypes.NewJSONSlice(req.Types),
			Base:  datatypes.NewJSONType(base),
			Image: m.sprites.PublicURL(id),
		}

		err = m.db.WithContext(ctx).Create(&pokemon).Error
		if err == nil {
			break
		}
		// 并发创建可能读到同一个最大 ID，冲突时重新分配。
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < maxCreateAttempts-1 {
			continue
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pokemon"})
		return
	}

	source := filestore.SpriteSource{Upload: imageFile}
	if imageFile == nil {
		if image := strings.TrimSpace(req.Image); image != "" {
			if strings.HasPrefix(image, "http") {
				source.RemoteURL = image
			} else {
				source.LocalPath = image
			}
		}
	}

	if outcome, err := m.sprites.Resolve(ctx, pokemon.ID, source); err != nil {
		log.Printf("pokemons: resolve sprite for %d: %v", pokemon.ID, err)
	} else if outcome == filestore.SpriteStored {
		log.Printf("pokemons: stored sprite for %d", pokemon.ID)
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "pokemon created successfully",
		"pokemon": pokemon,
	})
}

// handleUpdatePokemon godoc
// @Summary 更新宝可梦
// @Description 按字段合并更新，未提供的字段保留原值
// @Tags Pokemons
// @Accept json
// @Produce json
// @Param id path int true "宝可梦 ID"
// @Param request body updatePokemonRequest true "更新内容"
// @Success 200 {object} map[string]interface{} "更新后的记录"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleUpdatePokemon 处理部分更新，type 整体替换，其余字段逐项合并。
func (m *Module) handleUpdatePokemon(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	id, err := parsePokemonID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		return
	}

	var req updatePokemonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if req.Name == nil && req.Types == nil && req.Base == nil && req.Image == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	ctx := c.Request.Context()

	var existing Pokemon
	if err := m.db.WithContext(ctx).Take(&existing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pokemon"})
		}
		return
	}

	updates := merge(existing, req)
	if len(updates) > 0 {
		if err := m.db.WithContext(ctx).Model(&Pokemon{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update pokemon"})
			return
		}
	}

	var pokemon Pokemon
	if err := m.db.WithContext(ctx).Take(&pokemon, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pokemon"})
		return
	}

	m.forgetPokemon(ctx, existing)
	m.forgetPokemon(ctx, pokemon)

	c.JSON(http.StatusOK, gin.H{
		"message": "pokemon updated successfully",
		"pokemon": pokemon,
	})
}

// handleDeletePokemon godoc
// @Summary 删除宝可梦
// @Tags Pokemons
// @Produce json
// @Param id path int true "宝可梦 ID"
// @Success 200 {object} map[string]interface{} "被删除的记录"
// @Failure 404 {object} map[string]string "未找到"
// @Failure 500 {object} map[string]string "服务器错误"
// handleDeletePokemon 删除记录并尽力清理对应的素材文件。
func (m *Module) handleDeletePokemon(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	id, err := parsePokemonID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		return
	}

	ctx := c.Request.Context()

	var pokemon Pokemon
	if err := m.db.WithContext(ctx).Take(&pokemon, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pokemon not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pokemon"})
		}
		return
	}

	if err := m.db.WithContext(ctx).Delete(&Pokemon{}, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete pokemon"})
		return
	}

	m.forgetPokemon(ctx, pokemon)

	if err := m.sprites.Remove(ctx, id); err != nil {
		log.Printf("pokemons: remove sprite for %d: %v", id, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "pokemon deleted successfully",
		"pokemon": pokemon,
	})
}

// handleHealthz 探活接口，校验数据库连接可用。
func (m *Module) handleHealthz(c *gin.Context) {
	if m.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	sqlDB, err := m.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bindCreatePokemonRequest 解析 JSON 或 multipart 形式的创建请求。
// multipart 表单中 name/type/base 为 JSON 字符串，文件字段名为 imageFile。
func bindCreatePokemonRequest(c *gin.Context) (createPokemonRequest, *multipart.FileHeader, error) {
	var req createPokemonRequest
	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(25 << 20); err != nil {
			return req, nil, fmt.Errorf("invalid multipart payload: %w", err)
		}

		form := c.Request.MultipartForm
		if raw := firstFormValue(form.Value["name"]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Name); err != nil {
				return req, nil, errors.New("invalid name payload")
			}
		}
		if raw := firstFormValue(form.Value["type"]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Types); err != nil {
				return req, nil, errors.New("invalid type payload")
			}
		}
		if raw := firstFormValue(form.Value["base"]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Base); err != nil {
				return req, nil, errors.New("invalid base payload")
			}
		}
		req.Image = firstFormValue(form.Value["image"])

		var imageFile *multipart.FileHeader
		if files := form.File["imageFile"]; len(files) > 0 {
			imageFile = files[0]
		}

		return req, imageFile, nil
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		return req, nil, fmt.Errorf("invalid request payload: %w", err)
	}

	return req, nil, nil
}

// firstFormValue 获取表单字段的第一个取值。
func firstFormValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// parsePokemonID 将路径参数转换为记录 ID，非数字或零值视为无效。
func parsePokemonID(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("invalid id")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
