package app

import (
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/pkg/common"
	"go.uber.org/zap"
)

const settingsCacheTTL = 30 * time.Second

// ConfigManager reads sys_config settings with a short-lived cache so
// hot paths don't hit the database per lookup.
type ConfigManager struct {
	app *Application

	mu        sync.RWMutex
	cache     map[string]string
	refreshed time.Time
}

func NewConfigManager(a *Application) *ConfigManager {
	return &ConfigManager{app: a, cache: make(map[string]string)}
}

func cacheKey(category, name string) string {
	return category + "." + name
}

func (cm *ConfigManager) load() {
	cm.mu.RLock()
	fresh := time.Since(cm.refreshed) < settingsCacheTTL
	cm.mu.RUnlock()
	if fresh {
		return
	}

	var rows []domain.SysConfig
	if err := cm.app.DB().Find(&rows).Error; err != nil {
		zap.L().Warn("failed to load settings", zap.Error(err))
		return
	}

	next := make(map[string]string, len(rows))
	for _, row := range rows {
		next[cacheKey(row.Type, row.Name)] = row.Value
	}

	cm.mu.Lock()
	cm.cache = next
	cm.refreshed = time.Now()
	cm.mu.Unlock()
}

func (cm *ConfigManager) GetString(category, name string) string {
	cm.load()
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cache[cacheKey(category, name)]
}

func (cm *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(cm.GetString(category, name))
}

func (cm *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(cm.GetString(category, name))
}

// Set writes a setting row and invalidates the cache.
func (cm *ConfigManager) Set(category, name, value string) error {
	db := cm.app.DB()
	var row domain.SysConfig
	err := db.Where("type = ? and name = ?", category, name).First(&row).Error
	if err != nil {
		err = db.Create(&domain.SysConfig{
			ID:    common.UUIDint64(),
			Type:  category,
			Name:  name,
			Value: value,
		}).Error
	} else {
		err = db.Model(&domain.SysConfig{}).Where("id = ?", row.ID).Update("value", value).Error
	}
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.refreshed = time.Time{}
	cm.mu.Unlock()
	return nil
}
