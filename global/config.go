package global

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 进程级配置；默认值 < config.yaml < NC_* 环境变量。
type AppConfig struct {
	NodeID     int64  `mapstructure:"node_id"`
	ListenAddr string `mapstructure:"listen_addr"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	// WebSocket 相关
	SendBuffer   int           `mapstructure:"send_buffer"`   // 每连接发送队列容量
	ReadLimit    int64         `mapstructure:"read_limit"`    // 单帧最大字节数
	PongWait     time.Duration `mapstructure:"pong_wait"`     // 读超时（pong 刷新）
	PingInterval time.Duration `mapstructure:"ping_interval"` // 心跳周期

	// 维护任务
	PendingRequestTTL time.Duration `mapstructure:"pending_request_ttl"` // 待处理好友请求保留时长
	PresenceTTL       time.Duration `mapstructure:"presence_ttl"`        // 在线标记 TTL
}

var Global AppConfig

// Load 读取配置：可显式传 config 文件路径，空串时按默认位置找 config.yaml（可缺省）。
func Load(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetDefault("node_id", 1)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "nebulachat")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 16)
	v.SetDefault("jwt_secret", "dev-secret-change-me")
	v.SetDefault("token_ttl", 2*time.Hour)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("pong_wait", 60*time.Second)
	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("pending_request_ttl", 30*24*time.Hour)
	v.SetDefault("presence_ttl", 90*time.Second)

	v.SetEnvPrefix("nc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可缺省，其他错误要暴露
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return err
		}
	}
	return v.Unmarshal(&Global)
}

func GetJwtSecret() []byte {
	return []byte(Global.JWTSecret)
}
