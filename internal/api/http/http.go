package http

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 7843
)

type Config struct {
	Host        string `mapstructure:"host"`
	Port        uint   `mapstructure:"port"`
	AdminAPIKey string `mapstructure:"admin_api_key"`
}
