package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Board    BoardConfig    `mapstructure:"board"`
	Quests   QuestsConfig   `mapstructure:"quests"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	MemoryName   string        `mapstructure:"memory_name"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// BoardConfig tunes every bounty board in the world.
type BoardConfig struct {
	QuestSlots       int           `mapstructure:"quest_slots"`
	DecreeSlots      int           `mapstructure:"decree_slots"`
	MaxActiveTickets int           `mapstructure:"max_active_tickets"`
	TicketTimeout    time.Duration `mapstructure:"ticket_timeout"`
	OfferTTL         time.Duration `mapstructure:"offer_ttl"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	ExpirySweep      time.Duration `mapstructure:"expiry_sweep"`
	RewardRetry      time.Duration `mapstructure:"reward_retry"`
	// BeginPolicy is "immediate" or "first_deposit".
	BeginPolicy string `mapstructure:"begin_policy"`
	// TierMinLevel[i] is the minimum player level for tier i+1.
	TierMinLevel  []int    `mapstructure:"tier_min_level"`
	ClassVariants []string `mapstructure:"class_variants"`
	// DecreeItem fills decree slots at construction; empty leaves them vacant.
	DecreeItem string `mapstructure:"decree_item"`
}

// MinLevelForTier returns the level a player needs to accept a quest of tier.
// Tiers without an entry have no minimum.
func (b BoardConfig) MinLevelForTier(tier int) int {
	if tier < 1 || tier > len(b.TierMinLevel) {
		return 0
	}
	return b.TierMinLevel[tier-1]
}

type QuestsConfig struct {
	ItemsPath       string `mapstructure:"items_path"`
	DefinitionsPath string `mapstructure:"definitions_path"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminIPs       []string `mapstructure:"admin_ips"`
}

// DefaultBoard returns the board settings used when no config file overrides them.
func DefaultBoard() BoardConfig {
	return BoardConfig{
		QuestSlots:       6,
		DecreeSlots:      3,
		MaxActiveTickets: 3,
		TicketTimeout:    2 * time.Hour,
		OfferTTL:         30 * time.Minute,
		TickInterval:     20 * time.Second,
		ExpirySweep:      time.Minute,
		RewardRetry:      30 * time.Second,
		BeginPolicy:      "first_deposit",
		TierMinLevel:     []int{1, 5, 10},
	}
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	b := DefaultBoard()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/bounty.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("board.quest_slots", b.QuestSlots)
	v.SetDefault("board.decree_slots", b.DecreeSlots)
	v.SetDefault("board.max_active_tickets", b.MaxActiveTickets)
	v.SetDefault("board.ticket_timeout", b.TicketTimeout)
	v.SetDefault("board.offer_ttl", b.OfferTTL)
	v.SetDefault("board.tick_interval", b.TickInterval)
	v.SetDefault("board.expiry_sweep", b.ExpirySweep)
	v.SetDefault("board.reward_retry", b.RewardRetry)
	v.SetDefault("board.begin_policy", b.BeginPolicy)
	v.SetDefault("board.tier_min_level", b.TierMinLevel)
	v.SetDefault("quests.items_path", "./data/items.yaml")
	v.SetDefault("quests.definitions_path", "./data/quests.json")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
