package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Browser       BrowserConfig       `yaml:"browser"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	Carriers      CarriersConfig      `yaml:"carriers"`
	Retry         RetryConfig         `yaml:"retry"`
	Notifications NotificationsConfig `yaml:"notifications"`
	FreightTrack  FreightTrackConfig  `yaml:"freighttrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (c DatabaseConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ScrapeRequestedTopicName string `yaml:"scrape_requested_topic_name"`
	DeliveryUpdatedTopicName string `yaml:"delivery_updated_topic_name"`
}

func (c KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BrowserConfig описывает запуск headless-браузера. Headless: указатель,
// чтобы отличать "не задано" от явного false.
type BrowserConfig struct {
	Headless       *bool  `yaml:"headless"`
	UserAgent      string `yaml:"user_agent"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	ExecPath       string `yaml:"exec_path"`
	ScreenshotDir  string `yaml:"screenshot_dir"`
	Screenshots    bool   `yaml:"screenshots"`
}

type TimeoutsConfig struct {
	NavigationSeconds  int `yaml:"navigation_seconds"`
	ElementSeconds     int `yaml:"element_seconds"`
	SelectorSeconds    int `yaml:"selector_seconds"`
	NetworkIdleSeconds int `yaml:"network_idle_seconds"`
	ScrapeSeconds      int `yaml:"scrape_seconds"`
}

type CarriersConfig struct {
	AccertURL    string `yaml:"accert_url"`
	JamefURL     string `yaml:"jamef_url"`
	JamefBeacon  string `yaml:"jamef_beacon_prefix"`
	BraspressURL string `yaml:"braspress_url"`
	ViaVerdeURL  string `yaml:"viaverde_url"`

	ViaVerdeLogin    string `yaml:"viaverde_login"`
	ViaVerdePassword string `yaml:"viaverde_password"`

	BraspressOverlayWatchSeconds int `yaml:"braspress_overlay_watch_seconds"`
	BraspressNavigationAttempts  int `yaml:"braspress_navigation_attempts"`
	BraspressCooldownSeconds     int `yaml:"braspress_cooldown_seconds"`
}

type RetryConfig struct {
	MaxAttempts            int `yaml:"max_attempts"`
	InitialIntervalSeconds int `yaml:"initial_interval_seconds"`
	MaxIntervalSeconds     int `yaml:"max_interval_seconds"`
}

type NotificationsConfig struct {
	Schedule string `yaml:"schedule"` // cron, например "0 8 * * *"
	Timezone string `yaml:"timezone"` // по умолчанию America/Sao_Paulo
	// BatchLimit: сколько pending-записей берёт один дайджест.
	BatchLimit int            `yaml:"batch_limit"`
	SMTP       SMTPConfig     `yaml:"smtp"`
	WhatsApp   WhatsAppConfig `yaml:"whatsapp"`
}

type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type WhatsAppConfig struct {
	BaseURL    string   `yaml:"base_url"`
	Instance   string   `yaml:"instance"`
	APIKey     string   `yaml:"api_key"`
	Recipients []string `yaml:"recipients"`
	PerMinute  int      `yaml:"per_minute"`
}

type FreightTrackConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`
	InlineDispatch          bool   `yaml:"inline_dispatch"`

	WorkerConsumerGroup       string `yaml:"worker_consumer_group"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`
	WorkerLockTTLSeconds      int    `yaml:"worker_lock_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Расписание проверок (опционально). По умолчанию:
	// в пути 30..120 минут, неизвестный статус 90 минут, backoff 5/15/30/60 минут.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckUnknownSeconds      int `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	// Учётные данные ViaVerde лучше держать в окружении, а не в файле.
	if v := os.Getenv("VIAVERDE_LOGIN"); v != "" {
		config.Carriers.ViaVerdeLogin = v
	}
	if v := os.Getenv("VIAVERDE_PASSWORD"); v != "" {
		config.Carriers.ViaVerdePassword = v
	}

	return &config, nil
}
