package database

// Config holds the libsql store configuration
type Config struct {
	URL            string `mapstructure:"url"`
	AuthToken      string `mapstructure:"auth_token"`
	MaxOpenConns   int    `mapstructure:"max_open_conns"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	ConnMaxIdleSec int    `mapstructure:"conn_max_idle_sec"`
	ConnMaxLifeSec int    `mapstructure:"conn_max_life_sec"`
}

// DefaultURL is used when no store url is configured.
const DefaultURL = "file:./kg.db"

// NewConfig returns a Config pointing at the default local file.
func NewConfig() *Config {
	return &Config{URL: DefaultURL}
}
