package websocket

import (
	"fmt"
	"time"

	"Guardian/pkg/util"
)

// Config WebSocket配置
type Config struct {
	// 最大连接数
	MaxConnections int64
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 连接超时时间
	ConnectionTimeout time.Duration
	// 每个连接的发送缓冲
	MessageBufferSize int
	// Hub 消息队列大小
	MessageQueueSize int
	ReadBufferSize   int
	WriteBufferSize  int
	// 客户端消息上限，频道只读，只需容纳 ping
	MaxMessageSize    int
	EnableCompression bool
	// 慢消费者策略：背压触发时直接断开，客户端重连后拿到最新快照
	CloseOnBackpressure bool
	// 发送阻塞超时
	SendTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:      DefaultMaxConnections,
		HeartbeatInterval:   DefaultHeartbeatInterval * time.Second,
		ConnectionTimeout:   DefaultConnectionTimeout * time.Second,
		MessageBufferSize:   DefaultMessageBufferSize,
		MessageQueueSize:    DefaultMessageQueueSize,
		ReadBufferSize:      DefaultReadBufferSize,
		WriteBufferSize:     DefaultWriteBufferSize,
		MaxMessageSize:      DefaultMaxMessageSize,
		EnableCompression:   true,
		CloseOnBackpressure: true,
		SendTimeout:         50 * time.Millisecond,
	}
}

// LoadConfigFromEnv 从环境变量加载WebSocket配置
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if maxConnections := util.GetIntEnv(EnvWebSocketMaxConnections); maxConnections > 0 {
		config.MaxConnections = maxConnections
	}
	if heartbeatInterval := util.GetIntEnv(EnvWebSocketHeartbeatInterval); heartbeatInterval > 0 {
		config.HeartbeatInterval = time.Duration(heartbeatInterval) * time.Second
	}
	if connectionTimeout := util.GetIntEnv(EnvWebSocketConnectionTimeout); connectionTimeout > 0 {
		config.ConnectionTimeout = time.Duration(connectionTimeout) * time.Second
	}
	if messageBufferSize := util.GetIntEnv(EnvWebSocketMessageBufferSize); messageBufferSize > 0 {
		config.MessageBufferSize = int(messageBufferSize)
	}
	if v := util.GetEnv(EnvWebSocketEnableCompression); v != "" {
		config.EnableCompression = util.GetBoolEnv(EnvWebSocketEnableCompression)
	}
	if v := util.GetEnv(EnvWebSocketCloseOnBackpressure); v != "" {
		config.CloseOnBackpressure = util.GetBoolEnv(EnvWebSocketCloseOnBackpressure)
	}
	if ms := util.GetIntEnv(EnvWebSocketSendTimeoutMs); ms > 0 {
		config.SendTimeout = time.Duration(ms) * time.Millisecond
	}
	return config
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be greater than 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be greater than 0")
	}
	if c.ConnectionTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("ConnectionTimeout must be greater than HeartbeatInterval")
	}
	if c.MessageBufferSize <= 0 || c.MessageQueueSize <= 0 {
		return fmt.Errorf("buffer sizes must be greater than 0")
	}
	return nil
}
