package adminapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/evopanel/internal/app"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/internal/webserver"
	"github.com/talkincode/evopanel/pkg/common"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func registerAuthRoutes() {
	webserver.PubPOST("/auth/login", postLogin)
}

// postLogin checks operator credentials and issues the console JWT.
// The token subject is the operator id, which scopes the instance
// reconciler for every later call.
func postLogin(c echo.Context) error {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" || payload.Password == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "username and password are required", nil)
	}

	var opr domain.SysOpr
	if err := GetDB(c).Where("username = ?", payload.Username).First(&opr).Error; err != nil {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid username or password", nil)
	}
	if !strings.EqualFold(opr.Status, common.ENABLED) {
		return fail(c, http.StatusUnauthorized, "AUTH_DISABLED", "Account disabled", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(opr.Password), []byte(payload.Password)); err != nil {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid username or password", nil)
	}

	appCtx := c.Get("appCtx").(app.AppContext)
	claims := jwt.MapClaims{
		"sub":      fmt.Sprintf("%d", opr.ID),
		"username": opr.Username,
		"level":    opr.Level,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(appCtx.Config().Web.JwtSecret))
	if err != nil {
		zap.L().Error("failed to sign token", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to issue token", nil)
	}

	GetDB(c).Model(&domain.SysOpr{}).Where("id = ?", opr.ID).Update("last_login", time.Now())
	zap.L().Info("operator login", zap.String("username", opr.Username), zap.String("ip", c.RealIP()))

	return ok(c, map[string]interface{}{
		"token":    signed,
		"username": opr.Username,
		"level":    opr.Level,
	})
}
