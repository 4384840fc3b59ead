package model

import (
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// SystemConfig 系统配置模型，保存少量运行期标量
type SystemConfig struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	ConfigKey   string    `gorm:"uniqueIndex;not null;size:100;comment:配置键" json:"config_key"`
	ConfigValue string    `gorm:"type:text;comment:配置值" json:"config_value"`
	ConfigType  string    `gorm:"size:20;default:string;comment:配置类型(string,int,bool,json等)" json:"config_type"`
	Category    string    `gorm:"size:50;comment:配置分类" json:"category"`
	Description string    `gorm:"size:200;comment:配置描述" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SystemConfig) TableName() string {
	return "system_configs"
}

// ConfigCategory 配置分类常量
const (
	CategorySystem  = "system"  // 系统配置
	CategoryTracker = "tracker" // 任务跟踪配置
)

// ConfigType 配置类型常量
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeBool   = "bool"
	TypeJSON   = "json"
)

// 已知配置键
const (
	KeyWindowSize = "tracker.window_size" // 可见窗口大小
)

// GetIntConfig 读取整型配置，不存在时 ok 为 false
func GetIntConfig(db *gorm.DB, key string) (value int, ok bool, err error) {
	var cfg SystemConfig
	if err := db.Where("config_key = ?", key).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	value, err = strconv.Atoi(cfg.ConfigValue)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// SetIntConfig 写入整型配置
func SetIntConfig(db *gorm.DB, key, category, description string, value int) error {
	var cfg SystemConfig
	err := db.Where("config_key = ?", key).First(&cfg).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	cfg.ConfigKey = key
	cfg.ConfigValue = strconv.Itoa(value)
	cfg.ConfigType = TypeInt
	cfg.Category = category
	cfg.Description = description
	return db.Save(&cfg).Error
}
