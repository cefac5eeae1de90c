package config

import (
	"fmt"
	"os"
	"path"
	"strconv"

	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	JwtSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

// ManagerConfig points at the external bridge manager webhook that
// executes instance lifecycle commands.
type ManagerConfig struct {
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
	Timeout    int    `yaml:"timeout" json:"timeout"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" json:"system"`
	Web      WebConfig     `yaml:"web" json:"web"`
	Manager  ManagerConfig `yaml:"manager" json:"manager"`
	Database DBConfig      `yaml:"database" json:"database"`
	Logger   LoggerConfig  `yaml:"logger" json:"logger"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

func (c *AppConfig) InitDirs() {
	_ = os.MkdirAll(path.Join(c.System.Workdir, "logs"), 0755)
	_ = os.MkdirAll(path.Join(c.System.Workdir, "data"), 0755)
	_ = os.MkdirAll(path.Join(c.System.Workdir, "metrics"), 0755)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "evopanel",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/evopanel",
		Debug:    true,
	},
	Web: WebConfig{
		Host:      "0.0.0.0",
		Port:      1820,
		JwtSecret: "9b6de5cc-evop-anel-0000-50f3917adb31",
	},
	Manager: ManagerConfig{
		WebhookURL: "",
		Timeout:    30,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "evopanel",
		User:     "postgres",
		Passwd:   "myroot",
		MaxConn:  100,
		IdleConn: 10,
		Debug:    false,
	},
	Logger: LoggerConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/evopanel/evopanel.log",
	},
}

func setEnvValue(name string, val *string) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		*val = evalue
	}
}

func setEnvBoolValue(name string, val *bool) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		*val = evalue == "true" || evalue == "1" || evalue == "on"
	}
}

func setEnvIntValue(name string, val *int) {
	var evalue = os.Getenv(name)
	if evalue == "" {
		return
	}
	p, err := strconv.ParseInt(evalue, 10, 64)
	if err == nil {
		*val = int(p)
	}
}

// LoadConfig loads the YAML configuration file and applies environment
// variable overrides. A missing file yields the defaults.
func LoadConfig(cfile string) *AppConfig {
	// config priority: env > config file > defaults
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	if cfile != "" && FileExists(cfile) {
		data, err := os.ReadFile(cfile)
		if err != nil {
			panic(err)
		}
		cfg = new(AppConfig)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			panic(err)
		}
	}

	setEnvValue("EVOPANEL_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("EVOPANEL_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBoolValue("EVOPANEL_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvValue("EVOPANEL_WEB_HOST", &cfg.Web.Host)
	setEnvValue("EVOPANEL_WEB_JWT_SECRET", &cfg.Web.JwtSecret)
	setEnvIntValue("EVOPANEL_WEB_PORT", &cfg.Web.Port)

	setEnvValue("EVOPANEL_MANAGER_WEBHOOK_URL", &cfg.Manager.WebhookURL)
	setEnvIntValue("EVOPANEL_MANAGER_TIMEOUT", &cfg.Manager.Timeout)

	setEnvValue("EVOPANEL_DB_HOST", &cfg.Database.Host)
	setEnvValue("EVOPANEL_DB_NAME", &cfg.Database.Name)
	setEnvValue("EVOPANEL_DB_USER", &cfg.Database.User)
	setEnvValue("EVOPANEL_DB_PWD", &cfg.Database.Passwd)
	setEnvIntValue("EVOPANEL_DB_PORT", &cfg.Database.Port)
	setEnvBoolValue("EVOPANEL_DB_DEBUG", &cfg.Database.Debug)

	setEnvValue("EVOPANEL_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvValue("EVOPANEL_LOGGER_FILENAME", &cfg.Logger.Filename)
	setEnvBoolValue("EVOPANEL_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)

	return cfg
}

func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return info != nil && !info.IsDir()
}

func (c *AppConfig) WebAddr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}
