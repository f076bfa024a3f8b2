// Copyright 2025 The tablesync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "github.com/spf13/viper"

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// EndpointConfig defines API endpoint config
type EndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// Auth Related Config

// AuthConfig defines parameters for verifying caller identity on connect
type AuthConfig struct {
	// JWTSecret is the shared HMAC secret for verifying bearer tokens
	JWTSecret string `mapstructure:"jwt_secret" json:"-" validate:"required"`
}

// ===============================================================================
// Table Sync Related Config

// SyncConfig defines table synchronization engine parameters
type SyncConfig struct {
	// SendBufferLen is the per-session outbound message buffer length
	SendBufferLen int `mapstructure:"send_buffer_len" json:"send_buffer_len" validate:"gte=1"`
	// MaxMessageBytes is the read limit on inbound websocket frames
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"gte=1024"`
	// WriteTimeout is the max duration for one outbound websocket write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// PingInterval is the transport keep-alive ping interval in seconds
	PingInterval int `mapstructure:"ping_interval_sec" json:"ping_interval_sec" validate:"gte=1"`
	// TaskQueueLen is the buffer length of the lifecycle controller task queue
	TaskQueueLen int `mapstructure:"task_queue_len" json:"task_queue_len" validate:"gte=1"`
}

// ===============================================================================
// Monitoring Related Config

// MonitorConfig defines periodic activity reporting parameters
type MonitorConfig struct {
	// ReportInterval is the seconds between activity reports. Zero disables reporting.
	ReportInterval int `mapstructure:"report_interval_sec" json:"report_interval_sec" validate:"gte=0"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the sync server
type SystemConfig struct {
	// HTTPSetting are the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints are the API endpoint config parameters
	Endpoints EndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// Auth are the connection auth parameters
	Auth AuthConfig `mapstructure:"auth" json:"auth" validate:"required,dive"`
	// Sync are the table synchronization engine parameters
	Sync SyncConfig `mapstructure:"sync" json:"sync" validate:"required,dive"`
	// Monitor are the activity reporting parameters
	Monitor MonitorConfig `mapstructure:"monitor" json:"monitor"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default HTTP server settings
	viper.SetDefault("api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api_server.server_config.listen_port", 3000)
	viper.SetDefault("api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api_server.logging_config.request_id_header", "Tablesync-Request-ID",
	)
	viper.SetDefault(
		"api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("endpoint_config.path_prefix", "/")

	// Default sync engine settings
	viper.SetDefault("sync.send_buffer_len", 32)
	viper.SetDefault("sync.max_message_bytes", 65536)
	viper.SetDefault("sync.write_timeout_sec", 10)
	viper.SetDefault("sync.ping_interval_sec", 30)
	viper.SetDefault("sync.task_queue_len", 64)

	// Default monitoring settings
	viper.SetDefault("monitor.report_interval_sec", 60)
}
