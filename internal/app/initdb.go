package app

import (
	"errors"
	"strings"
	"time"

	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/pkg/common"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func (a *Application) checkSuper() {
	const superUsername = "admin"
	const defaultPassword = "evopanel"

	hashed, err := bcrypt.GenerateFromPassword([]byte(defaultPassword), bcrypt.DefaultCost)
	if err != nil {
		zap.L().Error("failed to hash default password", zap.Error(err))
		return
	}

	var operator domain.SysOpr
	err = a.gormDB.Where("username = ?", superUsername).First(&operator).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := a.gormDB.Create(&domain.SysOpr{
			ID:        common.UUIDint64(),
			Realname:  "administrator",
			Mobile:    "0000",
			Email:     "N/A",
			Username:  superUsername,
			Password:  string(hashed),
			Level:     "super",
			Status:    common.ENABLED,
			Remark:    "super",
			LastLogin: time.Now(),
		}).Error; err != nil {
			zap.L().Error("failed to create default super admin", zap.Error(err))
		} else {
			zap.L().Info("initialized default super admin account", zap.String("username", superUsername))
		}
		return
	case err != nil:
		zap.L().Error("failed to query super admin", zap.Error(err))
		return
	}

	resetPassword := strings.TrimSpace(operator.Password) == ""
	resetLevel := !strings.EqualFold(operator.Level, "super")
	resetStatus := !strings.EqualFold(operator.Status, common.ENABLED)

	if !resetPassword && !resetLevel && !resetStatus {
		return
	}

	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if resetPassword {
		updates["password"] = string(hashed)
	}
	if resetLevel {
		updates["level"] = "super"
	}
	if resetStatus {
		updates["status"] = common.ENABLED
	}

	if err := a.gormDB.Model(&domain.SysOpr{}).Where("id = ?", operator.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to repair super admin account", zap.Error(err))
		return
	}

	zap.L().Warn("repaired default super admin account",
		zap.String("username", superUsername),
		zap.Bool("passwordReset", resetPassword),
		zap.Bool("levelReset", resetLevel),
		zap.Bool("statusEnabled", resetStatus))
}

type settingSeed struct {
	Type   string
	Name   string
	Value  string
	Remark string
}

func (a *Application) checkSettings() {
	seeds := []settingSeed{
		{"system", "title", "EvoPanel", "console title"},
		{"manager", "webhook_url", a.appConfig.Manager.WebhookURL, "bridge manager webhook endpoint"},
		{"manager", "timeout", "30", "manager call timeout seconds"},
	}

	for sortid, seed := range seeds {
		var cnt int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", seed.Type, seed.Name).Count(&cnt)
		if cnt > 0 {
			continue
		}
		if err := a.gormDB.Create(&domain.SysConfig{
			ID:     common.UUIDint64(),
			Sort:   sortid,
			Type:   seed.Type,
			Name:   seed.Name,
			Value:  seed.Value,
			Remark: seed.Remark,
		}).Error; err != nil {
			zap.L().Warn("failed to seed setting",
				zap.String("type", seed.Type), zap.String("name", seed.Name), zap.Error(err))
		}
	}
}
